package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/classmesh/classmesh/internal/application/constant"
	"github.com/classmesh/classmesh/internal/client"
	"github.com/classmesh/classmesh/internal/client/media"
	"github.com/classmesh/classmesh/internal/client/signaling"
	"github.com/classmesh/classmesh/internal/domain"
	"github.com/classmesh/classmesh/internal/domain/events"
)

var joinFlags struct {
	server      string
	token       string
	room        string
	userID      string
	displayName string
	role        string
	video       bool
	audio       bool
	recordDir   string
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a classroom as a headless participant",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd.Context())
	},
}

func init() {
	joinCmd.Flags().StringVar(&joinFlags.server, "server", "http://localhost:3000", "hub base URL")
	joinCmd.Flags().StringVar(&joinFlags.token, "token", "", "identity JWT")
	joinCmd.Flags().StringVar(&joinFlags.room, "room", "", "room id")
	joinCmd.Flags().StringVar(&joinFlags.userID, "user-id", "", "user id")
	joinCmd.Flags().StringVar(&joinFlags.displayName, "name", "", "display name")
	joinCmd.Flags().StringVar(&joinFlags.role, "role", string(domain.RoleStudent), "teacher or student")
	joinCmd.Flags().BoolVar(&joinFlags.video, "video", true, "send synthetic video")
	joinCmd.Flags().BoolVar(&joinFlags.audio, "audio", true, "send synthetic audio")
	joinCmd.Flags().StringVar(&joinFlags.recordDir, "record-dir", "./recordings", "directory for recording blobs")

	rootCmd.AddCommand(joinCmd)
}

func runJoin(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt)
	defer cancel()

	if joinFlags.room == "" {
		return fmt.Errorf("--room is required")
	}

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: slog.LevelInfo},
			),
		),
	)

	iceServers, err := fetchICEServers(ctx, joinFlags.server, joinFlags.token)
	if err != nil {
		return err
	}

	session, err := client.Join(
		ctx,
		client.Config{
			ServerURL:   wsURL(joinFlags.server),
			Token:       joinFlags.token,
			RoomID:      joinFlags.room,
			UserID:      joinFlags.userID,
			DisplayName: joinFlags.displayName,
			Role:        domain.Role(joinFlags.role),
			ICEServers:  iceServers,
			Media:       media.Constraints{Video: joinFlags.video, Audio: joinFlags.audio},
			Uploader:    &media.FileUploader{Dir: joinFlags.recordDir},
		},
		media.NewSyntheticProvider(),
		client.Events{
			OnParticipantJoin: func(ev events.UserJoinedEvent) {
				slog.Info("participant joined",
					slog.String(constant.PeerID, ev.ConnID),
					slog.String(constant.UserName, ev.DisplayName),
				)
			},
			OnParticipantLeave: func(ev events.UserLeftEvent) {
				slog.Info("participant left",
					slog.String(constant.PeerID, ev.ConnID),
					slog.String(constant.UserName, ev.DisplayName),
				)
			},
			OnChat: func(ev events.ChatMessageBroadcast) {
				slog.Info("chat",
					slog.String(constant.UserName, ev.DisplayName),
					slog.String("message", ev.Text),
				)
			},
			OnRecordingChanged: func(isRecording bool) {
				slog.Info("recording state", slog.Bool("isRecording", isRecording))
			},
			OnSignalingState: func(state signaling.State, err error) {
				if err != nil {
					slog.Warn("signaling state",
						slog.String(constant.State, string(state)),
						slog.Any(constant.Error, err),
					)
					return
				}

				slog.Info("signaling state", slog.String(constant.State, string(state)))
			},
		},
	)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	defer session.Close()

	slog.Info("joined room", slog.String(constant.RoomID, joinFlags.room))

	<-ctx.Done()

	return nil
}

// fetchICEServers asks the hub for the ICE list, TURN REST credentials
// included when coturn is configured.
func fetchICEServers(ctx context.Context, baseURL, token string) ([]webrtc.ICEServer, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL+"/api/v1/ice", nil)
	if err != nil {
		return nil, fmt.Errorf("build ice request: %w", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ice servers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ice servers: status %d", resp.StatusCode)
	}

	var servers []webrtc.ICEServer
	if err := json.NewDecoder(resp.Body).Decode(&servers); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}

	return servers, nil
}

// wsURL rewrites the HTTP base into the signaling socket URL.
func wsURL(baseURL string) string {
	switch {
	case len(baseURL) > 8 && baseURL[:8] == "https://":
		return "wss://" + baseURL[8:] + "/api/v1/ws"
	case len(baseURL) > 7 && baseURL[:7] == "http://":
		return "ws://" + baseURL[7:] + "/api/v1/ws"
	default:
		return baseURL + "/api/v1/ws"
	}
}
