// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/valet-dev/valet/internal/config"
	"github.com/valet-dev/valet/internal/notify"
	"github.com/valet-dev/valet/internal/provider"
	"github.com/valet-dev/valet/internal/secrets"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// initHTTPClient is the HTTP client used for provider/token validation.
// Exposed as a variable so tests can replace it.
var initHTTPClient = &http.Client{Timeout: 10 * time.Second}

// initWizardStep tracks which step of the wizard is active.
type initWizardStep int

const (
	stepProvider      initWizardStep = iota // select provider
	stepAPIKey                              // enter API key
	stepValidateKey                         // validating key (spinner)
	stepBotToken                            // enter Telegram bot token (optional)
	stepValidateToken                       // validating bot token (spinner)
	stepDone                                // wizard complete
	stepError                               // terminal error
)

// initResult holds the collected wizard configuration.
type initResult struct {
	Provider  provider.ProviderName
	APIKey    string
	BotToken  string
	DevSecret string
}

// --- bubbletea messages ---

type (
	validationSuccessMsg struct{ step initWizardStep }
	validationErrorMsg   struct {
		step initWizardStep
		err  error
	}
)
type configWrittenMsg struct {
	path      string
	devSecret string
}

// --- lipgloss styles ---

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

var supportedProviders = []provider.ProviderName{
	provider.ProviderAnthropic,
	provider.ProviderOpenAI,
	provider.ProviderGoogle,
}

// initModel is the bubbletea model for the init wizard.
type initModel struct {
	step           initWizardStep
	providerIdx    int
	apiKeyInput    textinput.Model
	tokenInput     textinput.Model
	spinner        spinner.Model
	result         initResult
	validationErr  string
	configPath     string
	secretStore    secrets.Store
	errFinal       error
	skipTelegram   bool
	forceOverwrite bool
}

func newInitModel(store secrets.Store) initModel {
	apiKey := textinput.New()
	apiKey.Placeholder = "paste API key here"
	apiKey.EchoMode = textinput.EchoPassword
	apiKey.EchoCharacter = '•'

	botToken := textinput.New()
	botToken.Placeholder = "paste bot token here"
	botToken.EchoMode = textinput.EchoPassword
	botToken.EchoCharacter = '•'

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return initModel{
		step:        stepProvider,
		apiKeyInput: apiKey,
		tokenInput:  botToken,
		spinner:     sp,
		secretStore: store,
	}
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case validationSuccessMsg:
		return m.handleValidationSuccess(msg)

	case validationErrorMsg:
		m.validationErr = msg.err.Error()
		switch msg.step {
		case stepValidateKey:
			m.step = stepAPIKey
			m.apiKeyInput.Focus()
		case stepValidateToken:
			m.step = stepBotToken
			m.tokenInput.Focus()
		}
		return m, nil

	case configWrittenMsg:
		m.step = stepDone
		m.configPath = msg.path
		m.result.DevSecret = msg.devSecret
		return m, tea.Quit

	case error:
		m.step = stepError
		m.errFinal = msg
		return m, tea.Quit
	}

	return m.updateInputs(msg)
}

func (m initModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.step {
	case stepProvider:
		return m.handleProviderKey(msg)
	case stepAPIKey:
		return m.handleAPIKeyInput(msg)
	case stepBotToken:
		return m.handleBotTokenInput(msg)
	}
	return m, nil
}

func (m initModel) handleProviderKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.providerIdx > 0 {
			m.providerIdx--
		}
	case "down", "j":
		if m.providerIdx < len(supportedProviders)-1 {
			m.providerIdx++
		}
	case "enter":
		m.result.Provider = supportedProviders[m.providerIdx]
		m.step = stepAPIKey
		m.validationErr = ""
		m.apiKeyInput.SetValue("")
		m.apiKeyInput.Focus()
		return m, textinput.Blink
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m initModel) handleAPIKeyInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		key := strings.TrimSpace(m.apiKeyInput.Value())
		if key == "" {
			m.validationErr = "API key must not be empty"
			return m, nil
		}
		m.result.APIKey = key
		m.validationErr = ""
		m.step = stepValidateKey
		return m, tea.Batch(
			m.spinner.Tick,
			validateProviderKeyCmd(m.result.Provider, key),
		)
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
	return m, cmd
}

func (m initModel) handleBotTokenInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		token := strings.TrimSpace(m.tokenInput.Value())
		if token == "" {
			m.validationErr = "bot token must not be empty (press esc to skip)"
			return m, nil
		}
		m.result.BotToken = token
		m.validationErr = ""
		m.step = stepValidateToken
		return m, tea.Batch(
			m.spinner.Tick,
			validateBotTokenCmd(token),
		)
	case "ctrl+s", "esc":
		// Skip notifications — proceed directly to config write.
		m.result.BotToken = ""
		return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.tokenInput, cmd = m.tokenInput.Update(msg)
	return m, cmd
}

func (m initModel) handleValidationSuccess(msg validationSuccessMsg) (tea.Model, tea.Cmd) {
	switch msg.step {
	case stepValidateKey:
		if m.skipTelegram {
			m.result.BotToken = ""
			return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
		}
		m.step = stepBotToken
		m.validationErr = ""
		m.tokenInput.SetValue("")
		m.tokenInput.Focus()
		return m, textinput.Blink
	case stepValidateToken:
		return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
	}
	return m, nil
}

func (m initModel) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m.step {
	case stepAPIKey:
		var cmd tea.Cmd
		m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
		return m, cmd
	case stepBotToken:
		var cmd tea.Cmd
		m.tokenInput, cmd = m.tokenInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m initModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  Valet Setup Wizard  ") + "\n\n")

	switch m.step {
	case stepProvider:
		b.WriteString(promptStyle.Render("Step 1/2: Add your first LLM provider") + "\n\n")
		for i, p := range supportedProviders {
			if i == m.providerIdx {
				b.WriteString(selectedStyle.Render("  > "+string(p)) + "\n")
			} else {
				b.WriteString(dimStyle.Render("    "+string(p)) + "\n")
			}
		}
		b.WriteString("\n" + dimStyle.Render("↑/↓ to navigate  enter to select  q to quit"))

	case stepAPIKey:
		b.WriteString(promptStyle.Render("Step 1/2: "+string(m.result.Provider)+" API key") + "\n\n")
		b.WriteString(m.apiKeyInput.View() + "\n")
		if m.validationErr != "" {
			b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("enter to continue  ctrl+c to quit"))

	case stepValidateKey:
		b.WriteString(m.spinner.View() + " Validating " + string(m.result.Provider) + " API key…\n")

	case stepBotToken:
		b.WriteString(promptStyle.Render("Step 2/2: Telegram bot token for completion notifications") + "\n\n")
		b.WriteString(m.tokenInput.View() + "\n")
		if m.validationErr != "" {
			b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("enter to continue  esc to skip  ctrl+c to quit"))

	case stepValidateToken:
		b.WriteString(m.spinner.View() + " Validating Telegram bot token…\n")

	case stepDone:
		b.WriteString(successStyle.Render("  Setup complete!  ") + "\n\n")
		if m.configPath != "" {
			b.WriteString(dimStyle.Render("Config written to: "+m.configPath) + "\n\n")
		}
		if m.result.DevSecret != "" {
			b.WriteString("Dev bearer secret (shown once, stored in the keyring):\n")
			b.WriteString(promptStyle.Render("  "+m.result.DevSecret) + "\n\n")
		}
		b.WriteString("Run " + promptStyle.Render("valet serve") + " to start the runtime.\n")
		b.WriteString("Run " + promptStyle.Render("valet doctor") + " to verify setup.\n")

	case stepError:
		b.WriteString(errorStyle.Render("Setup failed: "+m.errFinal.Error()) + "\n")
	}

	return boxStyle.Render(b.String())
}

// --- tea.Cmd factories ---

func validateProviderKeyCmd(p provider.ProviderName, key string) tea.Cmd {
	return func() tea.Msg {
		if err := provider.ValidateKey(context.Background(), initHTTPClient, p, key); err != nil {
			return validationErrorMsg{step: stepValidateKey, err: err}
		}
		return validationSuccessMsg{step: stepValidateKey}
	}
}

func validateBotTokenCmd(token string) tea.Cmd {
	return func() tea.Msg {
		if err := notify.ValidateToken(context.Background(), initHTTPClient, token); err != nil {
			return validationErrorMsg{step: stepValidateToken, err: err}
		}
		return validationSuccessMsg{step: stepValidateToken}
	}
}

func writeConfigCmd(result initResult, store secrets.Store, forceOverwrite bool) tea.Cmd {
	return func() tea.Msg {
		path, devSecret, err := storeSecretsAndWriteConfig(result, store, forceOverwrite)
		if err != nil {
			return err
		}
		return configWrittenMsg{path: path, devSecret: devSecret}
	}
}

// --- Config generation ---

// generateConfigYAML produces a minimal valet.yaml from the wizard result.
// Secrets are referenced via keyring:// URIs; the actual values are stored
// separately via storeSecretsAndWriteConfig.
func generateConfigYAML(result initResult) string {
	providerKey := fmt.Sprintf("keyring://%s/%s-api-key", serviceName, result.Provider)
	defaultModel := defaultModelForProvider(result.Provider)

	var sb strings.Builder
	sb.WriteString("# Valet configuration — generated by valet init\n\n")

	sb.WriteString("networking:\n")
	sb.WriteString("  listen: \"127.0.0.1:8780\"\n\n")

	sb.WriteString("storage:\n")
	sb.WriteString("  backend: sqlite\n\n")

	sb.WriteString("providers:\n")
	sb.WriteString(fmt.Sprintf("  %s:\n", result.Provider))
	sb.WriteString(fmt.Sprintf("    api_key: \"%s\"\n\n", providerKey))

	sb.WriteString("models:\n")
	sb.WriteString(fmt.Sprintf("  default: \"%s\"\n", defaultModel))
	sb.WriteString("  failover:\n")
	sb.WriteString(fmt.Sprintf("    - \"%s\"\n\n", defaultModel))

	sb.WriteString("auth:\n")
	sb.WriteString(fmt.Sprintf("  dev_secret: \"keyring://%s/dev-secret\"\n", serviceName))
	sb.WriteString("  dev_client_id: \"dev\"\n")

	if result.BotToken != "" {
		sb.WriteString("\ntelegram:\n")
		sb.WriteString(fmt.Sprintf("  bot_token: \"keyring://%s/telegram-bot-token\"\n", serviceName))
	}

	return sb.String()
}

// defaultModelForProvider returns a sensible default model string for a provider.
func defaultModelForProvider(p provider.ProviderName) string {
	switch p {
	case provider.ProviderAnthropic:
		return "anthropic/claude-sonnet-4-0"
	case provider.ProviderOpenAI:
		return "openai/gpt-4.1-mini"
	case provider.ProviderGoogle:
		return "google/gemini-2.5-flash"
	default:
		return string(p) + "/default"
	}
}

// storeSecretsAndWriteConfig saves secrets to the OS keyring and writes the
// config YAML to the default config path. A fresh dev bearer secret is
// generated and returned so the done screen can show it once.
//
// When forceOverwrite is false and the config file already exists, an error
// is returned asking the user to pass --force. Secrets stored before a
// failed config write are not rolled back; they are overwritten on a
// successful re-run.
func storeSecretsAndWriteConfig(result initResult, store secrets.Store, forceOverwrite bool) (string, string, error) {
	providerKeyName := string(result.Provider) + "-api-key"
	if err := store.Store(serviceName, providerKeyName, result.APIKey); err != nil {
		return "", "", valeterr.Errorf(valeterr.CodeSecretStoreFailure, "storing %s API key: %w", result.Provider, err)
	}

	if result.BotToken != "" {
		if err := store.Store(serviceName, "telegram-bot-token", result.BotToken); err != nil {
			return "", "", valeterr.Errorf(valeterr.CodeSecretStoreFailure, "storing Telegram bot token: %w", err)
		}
	}

	devSecret, err := generateDevSecret()
	if err != nil {
		return "", "", err
	}
	if err := store.Store(serviceName, "dev-secret", devSecret); err != nil {
		return "", "", valeterr.Errorf(valeterr.CodeSecretStoreFailure, "storing dev secret: %w", err)
	}

	cfgPath, err := configPathForWrite()
	if err != nil {
		return "", "", err
	}

	if !forceOverwrite {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return "", "", valeterr.Errorf(valeterr.CodeCLIInputInvalid,
				"config file already exists at %s; use --force to overwrite", cfgPath)
		}
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", valeterr.Errorf(valeterr.CodeConfigLoadReadFailure, "creating config directory %s: %w", dir, err)
	}

	yaml := generateConfigYAML(result)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		return "", "", valeterr.Errorf(valeterr.CodeConfigLoadReadFailure, "writing config to %s: %w", cfgPath, err)
	}

	return cfgPath, devSecret, nil
}

// generateDevSecret produces a random hex bearer secret.
func generateDevSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", valeterr.Errorf(valeterr.CodeCLISetupFailure, "generating dev secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// configPathForWrite returns the default config path. Exported as a variable
// so tests can override it.
var configPathForWrite = config.DefaultConfigPath

// --- Cobra command ---

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard for valet",
		Long: `Run an interactive TUI wizard that walks you through:
  1. Adding your first LLM provider (Anthropic, OpenAI, Google)
  2. Adding a Telegram bot token for completion notifications (optional)

API keys are stored securely in the OS keyring and referenced via
keyring:// URIs in the config file. No secrets are written in plain text.
A dev bearer secret for local clients is generated and shown once.

After completion, run:
  valet serve    — start the runtime
  valet doctor   — verify your setup`,
		RunE: runInit,
	}

	cmd.Flags().Bool("skip-telegram", false, "Skip the Telegram notification step")
	cmd.Flags().Bool("force", false, "Overwrite existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	// Check if stdin is a terminal — if not, refuse to run interactively.
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(f) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
			"valet init requires an interactive terminal.\n"+
				"To configure valet non-interactively, edit ~/.config/valet/valet.yaml directly.")
		return valeterr.New(valeterr.CodeCLISetupFailure, "valet init: not an interactive terminal")
	}

	skipTelegram, _ := cmd.Flags().GetBool("skip-telegram")
	forceOverwrite, _ := cmd.Flags().GetBool("force")

	store := secretStoreFactory()
	m := newInitModel(store)
	m.skipTelegram = skipTelegram
	m.forceOverwrite = forceOverwrite

	p := tea.NewProgram(m, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		return valeterr.Errorf(valeterr.CodeCLISetupFailure, "init wizard error: %w", err)
	}

	fm, ok := finalModel.(initModel)
	if !ok {
		return valeterr.New(valeterr.CodeCLISetupFailure, "unexpected model type after wizard")
	}

	if fm.errFinal != nil {
		return valeterr.Errorf(valeterr.CodeCLISetupFailure, "init failed: %w", fm.errFinal)
	}

	// If the user quit early (not done), that's fine — just return.
	return nil
}

// isTerminal reports whether f is a terminal file descriptor.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
