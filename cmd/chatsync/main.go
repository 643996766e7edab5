package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/devmatch/chatsync/api"
	"github.com/devmatch/chatsync/auth"
	"github.com/devmatch/chatsync/channel"
	"github.com/devmatch/chatsync/config"
	"github.com/devmatch/chatsync/directory"
	"github.com/devmatch/chatsync/model"
	"github.com/devmatch/chatsync/session"
	snapshots "github.com/devmatch/chatsync/snapshot/memory"
	"github.com/devmatch/chatsync/store"
	"github.com/devmatch/chatsync/typing"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		configName = fs.StringP("config", "c", "chatsync", "config file name (without extension)")
		token      = fs.StringP("token", "t", "", "access token (overrides config)")
		roomID     = fs.Int64P("room", "r", 0, "room to open on start")
		logLevel   = fs.StringP("log-level", "l", "info", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	cfg, err := config.Load(&logger, *configName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *token != "" {
		cfg.API.Token = *token
	}
	if cfg.API.Token == "" {
		logger.Fatal().Msg("no access token configured")
	}

	userID, err := auth.UserID(cfg.API.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read user id from access token")
	}

	apiClient := api.NewClient(api.Config{
		Logger:  &logger,
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
	})
	ch := channel.New(channel.Config{
		Logger:  &logger,
		BaseURL: cfg.Channel.BaseURL,
		Token:   cfg.API.Token,
	})
	typists := typing.New(typing.Config{
		Logger: &logger,
		Expiry: cfg.Chat.TypingExpiry,
		OnExpire: func() {
			ch.Emit(model.Frame{Type: model.FrameTypeTyping, IsTyping: false})
		},
	})

	ctrl := session.NewController(session.Config{
		Logger:       &logger,
		API:          apiClient,
		Directory:    directory.New(directory.Config{Logger: &logger, API: apiClient}),
		Store:        store.New(store.Config{Logger: &logger, API: apiClient}),
		Channel:      ch,
		Typing:       typists,
		Snapshots:    snapshots.NewStore(),
		UserID:       userID,
		HistoryLimit: cfg.Chat.HistoryLimit,
		OnMessage: func(msg model.Message) {
			printMessage(msg)
		},
		OnTyping: func(uid int64, isTyping bool) {
			if isTyping {
				fmt.Printf("… user %d is typing\n", uid)
			}
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go ctrl.Run(ctx, wg)

	ctrl.RefreshRooms(ctx)
	printRooms(ctrl)
	if *roomID != 0 {
		openRoom(ctx, ctrl, apiClient, *roomID)
	}

	go readLoop(ctx, &logger, ctrl, apiClient)

	<-ctx.Done()
	logger.Warn().Msg("interrupted")
	cancel()
	wg.Wait()
}

func readLoop(ctx context.Context, logger *zerolog.Logger, ctrl *session.Controller, apiClient *api.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/rooms":
			ctrl.RefreshRooms(ctx)
			printRooms(ctrl)
		case line == "/read":
			if room := ctrl.CurrentRoom(); room != 0 {
				if err := ctrl.MarkAsRead(ctx, room); err != nil {
					logger.Error().Err(err).Msg("mark as read failed")
				}
			}
		case strings.HasPrefix(line, "/open "):
			id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/open ")), 10, 64)
			if err != nil {
				fmt.Println("usage: /open <room-id>")
				continue
			}
			openRoom(ctx, ctrl, apiClient, id)
		case strings.HasPrefix(line, "/file "):
			sendFile(ctx, logger, ctrl, strings.TrimSpace(strings.TrimPrefix(line, "/file ")))
		default:
			room := ctrl.CurrentRoom()
			if room == 0 {
				fmt.Println("no room open, use /open <room-id>")
				continue
			}
			if _, err := ctrl.SendMessage(ctx, room, line); err != nil {
				logger.Error().Err(err).Msg("send failed, message not delivered")
			}
		}
	}
}

func openRoom(ctx context.Context, ctrl *session.Controller, apiClient *api.Client, roomID int64) {
	ctrl.OpenRoom(ctx, roomID)

	msgs := ctrl.Messages()
	for _, msg := range msgs {
		printMessage(msg)
	}
	if len(msgs) == 0 {
		if lines, err := apiClient.Icebreakers(ctx); err == nil && len(lines) > 0 {
			fmt.Println("conversation starters:")
			for _, line := range lines {
				fmt.Printf("  %s\n", line)
			}
		}
	}
	if room, ok := roomOf(ctrl, roomID); ok && room.ProjectID != 0 {
		if skills, err := apiClient.ProjectSkills(ctx, room.ProjectID); err == nil && len(skills) > 0 {
			fmt.Printf("project skills: %s\n", strings.Join(skills, ", "))
		}
	}
}

func sendFile(ctx context.Context, logger *zerolog.Logger, ctrl *session.Controller, path string) {
	room := ctrl.CurrentRoom()
	if room == 0 {
		fmt.Println("no room open, use /open <room-id>")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		logger.Error().Err(err).Msg("cannot open file")
		return
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err = ctrl.SendFile(ctx, room, filepath.Base(path), f); err != nil {
		logger.Error().Err(err).Msg("file send failed")
	}
}

func roomOf(ctrl *session.Controller, roomID int64) (model.Room, bool) {
	for _, room := range ctrl.Rooms() {
		if room.ID == roomID {
			return room, true
		}
	}
	return model.Room{}, false
}

func printRooms(ctrl *session.Controller) {
	rooms := ctrl.Rooms()
	fmt.Printf("%d rooms, %d unread\n", len(rooms), ctrl.UnreadTotal())
	for _, room := range rooms {
		fmt.Printf("  [%d] %s with %s (%d unread) %s\n",
			room.ID, room.ProjectTitle, room.OtherUserName, room.UnreadCount, room.LastMessagePreview)
	}
}

func printMessage(msg model.Message) {
	if msg.MessageType == model.MessageTypeFile {
		fmt.Printf("%s: [file] %s (%d bytes) %s\n", msg.SenderName, msg.FileName, msg.FileSize, msg.FileURL)
		return
	}
	fmt.Printf("%s: %s\n", msg.SenderName, msg.Content)
}
