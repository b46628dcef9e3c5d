package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"lumen/calendar"
	"lumen/chat"
	"lumen/config"
	"lumen/storage"
	"lumen/ui"
)

var (
	startNew      bool
	resumeSession string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the chat screen",
	Long: `Opens the terminal chat client.

The last conversation is resumed unless --new is given. Replies stream
in as they are generated; when one proposes an event, press the schedule
key to add it to Google Calendar (requires lumen login).`,
	RunE: runChat,
}

func init() {
	addChatFlags(chatCmd)
}

func addChatFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&startNew, "new", false, "Start a new conversation")
	cmd.Flags().StringVar(&resumeSession, "session", "", "Resume the conversation with this id (see lumen history)")
}

func runChat(cmd *cobra.Command, args []string) error {
	if startNew && resumeSession != "" {
		return errors.New("--new and --session cannot be combined")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	local, err := openLocalState(cfg)
	if err != nil {
		return err
	}

	account, err := local.account()
	if err != nil {
		return err
	}

	sessions, err := storage.NewSessionStorage(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to initialize session storage: %w", err)
	}

	conversation, err := pickConversation(sessions, startNew, resumeSession)
	if err != nil {
		return err
	}

	keys, err := config.LoadKeybindings(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to load keybindings: %w", err)
	}
	if ok, problem := keys.Validate(); !ok {
		if config.DebugLog != nil {
			config.DebugLog.Printf("Invalid keybindings, using defaults: %s", problem)
		}
		keys = config.DefaultKeybindings()
	}

	recorder := storage.NewRecorder(sessions, conversation)
	serverURL := local.serverURL()

	opts := []chat.Option{
		chat.WithRecorder(recorder),
		chat.WithSpeculativeExtraction(),
		chat.WithSystemPrompt(systemPrompt(cfg, conversation)),
	}
	if config.DebugLog != nil {
		opts = append(opts, chat.WithLogger(config.DebugLog))
	}

	controller := chat.NewController(chat.NewHTTPTransport(serverURL, nil), opts...)
	controller.SetCredential(local.credentials.Key())
	if conversation != nil {
		controller.Load(conversation.Messages)
	}

	var (
		scheduler calendar.Scheduler
		email     string
	)
	if account != nil {
		controller.SetSessionID(account.ID)
		scheduler = calendar.NewHTTPScheduler(serverURL, account.ID, nil)
		email = account.Email
	}

	return ui.Run(ui.NewAppView(ui.Options{
		Controller:  controller,
		Recorder:    recorder,
		Scheduler:   scheduler,
		Keybindings: keys,
		Markdown:    cfg.Client.Markdown,
		Account:     email,
		KeyMeta:     local.credentials.Meta(),
		Version:     Version,
	}))
}

// pickConversation returns the conversation to resume, nil for a new one.
func pickConversation(sessions *storage.SessionStorage, fresh bool, id string) (*storage.Session, error) {
	if fresh {
		return nil, nil
	}

	if id != "" {
		session, err := sessions.Load(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
		return session, nil
	}

	current, err := sessions.LoadCurrentSessionID()
	if err != nil || current == "" {
		return nil, nil
	}

	session, err := sessions.Load(current)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last conversation: %w", err)
	}
	return session, nil
}

// systemPrompt prefers the conversation's own prompt, then the configured
// one, then the built-in prompt.
func systemPrompt(cfg *config.Config, conversation *storage.Session) string {
	if conversation != nil && conversation.SystemPrompt != "" {
		return conversation.SystemPrompt
	}
	if cfg.Client.SystemPrompt != "" {
		return cfg.Client.SystemPrompt
	}
	return chat.DefaultSystemPrompt
}
