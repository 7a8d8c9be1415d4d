package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Greed71/webRTC/internal/protocol"
	"github.com/Greed71/webRTC/internal/ui"
)

func newCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <room>",
		Short: "Create a room with yourself as its first occupant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.api()
			if err != nil {
				return err
			}
			res, err := api.CreateRoom(cmd.Context(), args[0], protocol.ID(a.cfg.UserID))
			if err != nil {
				return err
			}
			ui.PrintSuccess(res.Message)
			return nil
		},
	}
}

func newDestroyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <room>",
		Short: "Delete a room regardless of its occupants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.api()
			if err != nil {
				return err
			}
			res, err := api.DestroyRoom(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ui.PrintSuccess(res.Message)
			return nil
		},
	}
}

func newRoomsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List the server's rooms and their occupants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.api()
			if err != nil {
				return err
			}
			rooms, err := api.Rooms(cmd.Context())
			if err != nil {
				return fmt.Errorf("list rooms: %w", err)
			}
			ui.RenderRooms(rooms)
			return nil
		},
	}
}
