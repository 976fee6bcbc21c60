package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-chat-backend/internal/api"
	"github.com/sirosfoundation/go-chat-backend/internal/domain"
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage live rooms",
	Long:  `Commands for inspecting and closing live chat rooms.`,
}

var roomListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		rooms, err := newClient().Rooms(cmd.Context())
		if err != nil {
			return err
		}
		resp := api.RoomListResponse{Rooms: rooms, Count: len(rooms)}
		return render(cmd, resp, func(w io.Writer) error { return renderRooms(w, rooms) })
	},
}

var roomGetCmd = &cobra.Command{
	Use:   "get [chat-type] [chat-id]",
	Short: "Show a live room and its members",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := domain.NewRoomKey(args[0], args[1])
		if err != nil {
			return err
		}

		room, err := newClient().Room(cmd.Context(), key)
		if err != nil {
			return err
		}
		return render(cmd, room, func(w io.Writer) error { return renderRoom(w, room) })
	},
}

var roomCloseCmd = &cobra.Command{
	Use:   "close [chat-type] [chat-id]",
	Short: "Disconnect every member of a live room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := domain.NewRoomKey(args[0], args[1])
		if err != nil {
			return err
		}

		closed, err := newClient().CloseRoom(cmd.Context(), key)
		if err != nil {
			return err
		}
		resp := api.CloseRoomResponse{Room: key, ClosedConnections: closed}
		return render(cmd, resp, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "Closed room %s (%d connections)\n", key, closed)
			return err
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway and storage health",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newClient().Status(cmd.Context())
		if err != nil {
			return err
		}
		return render(cmd, status, func(w io.Writer) error { return renderStatus(w, status) })
	},
}

func init() {
	roomCmd.AddCommand(roomListCmd)
	roomCmd.AddCommand(roomGetCmd)
	roomCmd.AddCommand(roomCloseCmd)
	rootCmd.AddCommand(roomCmd)
	rootCmd.AddCommand(statusCmd)
}
