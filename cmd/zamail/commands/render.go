package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
	"github.com/roasbeef/zamail/internal/config"
	"github.com/roasbeef/zamail/internal/mailbox"
)

const (
	colorTitle  = lipgloss.Color("#7D56F4")
	colorLabel  = lipgloss.Color("#888888")
	colorOK     = lipgloss.Color("#04B575")
	colorWarn   = lipgloss.Color("#FFB86C")
	colorErr    = lipgloss.Color("#FF5555")
	colorBorder = lipgloss.Color("#444444")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorTitle)
	labelStyle = lipgloss.NewStyle().Foreground(colorLabel).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(colorOK)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarn)
	errStyle   = lipgloss.NewStyle().Foreground(colorErr)
)

var boxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
	BorderForeground(colorBorder).Padding(0, 1)

// outputJSON writes v as indented JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// networkName is the hardhat network used in deploy instructions.
func networkName(chainID uint64) string {
	switch chainID {
	case config.HardhatChainID:
		return "localhost"
	case config.SepoliaChainID:
		return "sepolia"
	default:
		return "<network>"
	}
}

// deployInstructions explains how to deploy the contract on chainID.
func deployInstructions(chainID uint64) string {
	return fmt.Sprintf("Deploy ZaMail on chain %d with:\n"+
		"  npx hardhat deploy --network %s\n"+
		"then add its address under deployments.%d in the config file.",
		chainID, networkName(chainID), chainID)
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func yesNo(b bool) string {
	if b {
		return okStyle.Render("yes")
	}

	return "no"
}

func renderEncryption(ready bool) string {
	if ready {
		return okStyle.Render("ready")
	}

	return errStyle.Render("not ready")
}

func renderDeployment(d mailbox.DeploymentStatus) string {
	switch d {
	case mailbox.DeploymentDeployed:
		return okStyle.Render(d.String())
	case mailbox.DeploymentNotDeployed:
		return errStyle.Render(d.String())
	default:
		return warnStyle.Render(d.String())
	}
}

// formatStatus renders the connection, mailbox and system panels.
func formatStatus(s mailbox.Snapshot) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("ZaMail") + "\n")

	if !s.Connected {
		b.WriteString(errStyle.Render("Wallet not connected") + "\n")
		return b.String()
	}

	conn := []string{
		row("Account", s.Address.Hex()),
		row("Chain", fmt.Sprintf("%d", s.ChainID)),
		row("Deployment", renderDeployment(s.Deployment)),
	}
	if s.Contract != (common.Address{}) {
		conn = append(conn, row("Contract",
			mailbox.ShortAddress(s.Contract)))
	}
	b.WriteString(boxStyle.Render(strings.Join(conn, "\n")) + "\n")

	if s.Deployment == mailbox.DeploymentNotDeployed {
		b.WriteString(warnStyle.Render(
			deployInstructions(s.ChainID),
		) + "\n")
	}

	stats := s.Stats()
	mbox := []string{
		row("Sent", fmt.Sprintf("%d", stats.Sent)),
		row("Received", fmt.Sprintf("%d", stats.Received)),
		row("Total", fmt.Sprintf("%d", stats.Total)),
		row("Decrypted", fmt.Sprintf("%d", len(s.Contents))),
	}
	b.WriteString(boxStyle.Render(strings.Join(mbox, "\n")) + "\n")

	system := []string{
		row("Sending", yesNo(s.Sending)),
		row("Refreshing", yesNo(s.Refreshing)),
		row("Decrypting", fmt.Sprintf("%d", len(s.Decrypting))),
		row("FHEVM", renderEncryption(s.EncryptionReady)),
	}
	if s.EncryptionError != "" {
		system = append(system, row("FHEVM Error",
			errStyle.Render(s.EncryptionError)))
	}
	b.WriteString(boxStyle.Render(strings.Join(system, "\n")) + "\n")

	if s.LastAction.Message != "" {
		style := okStyle
		if s.LastAction.Failed() {
			style = errStyle
		}
		b.WriteString(style.Render(s.LastAction.Message) + "\n")
	}

	return b.String()
}

// formatMailbox lists message ids with any clear text known.
func formatMailbox(s mailbox.Snapshot) string {
	var b strings.Builder

	section := func(title string, ids []mailbox.MessageID) {
		b.WriteString(titleStyle.Render(
			fmt.Sprintf("%s (%d)", title, len(ids)),
		) + "\n")

		if len(ids) == 0 {
			b.WriteString("  (none)\n")
			return
		}

		for _, id := range ids {
			text := labelStyle.Render("encrypted")
			if c, ok := s.Content(id); ok {
				text = fmt.Sprintf("%q", c.ClearText)
			}
			fmt.Fprintf(&b, "  #%-8d %s\n", id, text)
		}
	}

	section("Received", s.Received)
	section("Sent", s.Sent)

	return b.String()
}

func formatDecryptResult(r decryptResult) string {
	switch {
	case r.Error != "":
		return fmt.Sprintf("#%d %s", r.ID, errStyle.Render(r.Error))
	case r.Cached:
		return fmt.Sprintf("#%d %q (cached)", r.ID, r.Text)
	default:
		return fmt.Sprintf("#%d %q", r.ID, r.Text)
	}
}

// mailboxView is the JSON form of a snapshot.
type mailboxView struct {
	Address    string              `json:"address,omitempty"`
	ChainID    uint64              `json:"chain_id,omitempty"`
	Contract   string              `json:"contract,omitempty"`
	Deployment string              `json:"deployment"`
	FHEVMReady bool                `json:"fhevm_ready"`
	FHEVMError string              `json:"fhevm_error,omitempty"`
	Sent       []mailbox.MessageID `json:"sent"`
	Received   []mailbox.MessageID `json:"received"`
	Decrypted  map[string]string   `json:"decrypted,omitempty"`
	Sending    bool                `json:"sending"`
	Refreshing bool                `json:"refreshing"`
	Decrypting []mailbox.MessageID `json:"decrypting,omitempty"`
	LastAction string              `json:"last_action,omitempty"`
	Failed     bool                `json:"failed,omitempty"`
}

func newMailboxView(s mailbox.Snapshot) mailboxView {
	v := mailboxView{
		Deployment: s.Deployment.String(),
		Sent:       s.Sent,
		Received:   s.Received,
		Sending:    s.Sending,
		Refreshing: s.Refreshing,
		Decrypting: s.Decrypting,
		LastAction: s.LastAction.Message,
		Failed:     s.LastAction.Failed(),
	}
	if s.Connected {
		v.Address = s.Address.Hex()
		v.ChainID = s.ChainID
		v.FHEVMReady = s.EncryptionReady
		v.FHEVMError = s.EncryptionError
	}
	if s.Deployment == mailbox.DeploymentDeployed {
		v.Contract = s.Contract.Hex()
	}
	if len(s.Contents) > 0 {
		v.Decrypted = make(map[string]string, len(s.Contents))
		for id, c := range s.Contents {
			v.Decrypted[fmt.Sprintf("%d", id)] = c.ClearText
		}
	}

	return v
}
