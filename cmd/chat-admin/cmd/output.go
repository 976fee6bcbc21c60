package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-chat-backend/internal/api"
	"github.com/sirosfoundation/go-chat-backend/internal/gateway"
)

// render writes v as indented JSON or through table, depending on --output
func render(cmd *cobra.Command, v interface{}, table func(io.Writer) error) error {
	out := cmd.OutOrStdout()
	switch output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "table", "":
		return table(out)
	default:
		return fmt.Errorf("unknown output format %q (must be table or json)", output)
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func renderRooms(w io.Writer, rooms []gateway.RoomInfo) error {
	if len(rooms) == 0 {
		_, err := fmt.Fprintln(w, "No live rooms.")
		return err
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "TYPE\tID\tMEMBERS\tLAST SEQ\tEPOCH")
	for _, r := range rooms {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			r.Room.ChatType, r.Room.ChatID, len(r.Members), r.LastSequence, r.Epoch)
	}
	return tw.Flush()
}

func renderRoom(w io.Writer, room *gateway.RoomInfo) error {
	fmt.Fprintf(w, "Room:          %s\n", room.Room)
	fmt.Fprintf(w, "Epoch:         %s\n", room.Epoch)
	fmt.Fprintf(w, "Last sequence: %d\n", room.LastSequence)
	fmt.Fprintf(w, "Created:       %s\n\n", formatTime(room.CreatedAt))

	if len(room.Members) == 0 {
		_, err := fmt.Fprintln(w, "No members.")
		return err
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "USER\tNAME\tCONNECTION\tJOINED")
	for _, m := range room.Members {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.UserID, m.DisplayName, m.ConnectionID, formatTime(m.JoinedAt))
	}
	return tw.Flush()
}

func renderStatus(w io.Writer, status *api.AdminStatusResponse) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Status:\t%s\n", status.Status)
	fmt.Fprintf(tw, "Service:\t%s\n", status.Service)
	fmt.Fprintf(tw, "Storage:\t%s\n", status.Storage)
	fmt.Fprintf(tw, "Rooms:\t%d\n", status.Stats.Rooms)
	fmt.Fprintf(tw, "Connections:\t%d\n", status.Stats.Connections)
	fmt.Fprintf(tw, "Draining:\t%t\n", status.Stats.Draining)
	fmt.Fprintf(tw, "Revoked tokens:\t%d\n", status.RevokedTokens)
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
