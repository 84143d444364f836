package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zsiec/lumen/internal/fonts"
)

func newAttachmentsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attachments",
		Short: "List and export embedded attachments",
	}
	cmd.AddCommand(newAttachmentsListCommand(ctx))
	cmd.AddCommand(newAttachmentsExportCommand(ctx))
	cmd.AddCommand(newAttachmentsFontsCommand(ctx))
	return cmd
}

func newAttachmentsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list <file-or-url>",
		Short: "List attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, sess, _, err := ctx.openSession(cmd.Context(), cmd, args[0], "")
			if err != nil {
				return err
			}
			defer mgr.CloseAll()

			res := buildInfo(sess).Attachments
			if jsonOut {
				return writeJSON(cmd, res)
			}
			if len(res) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No attachments")
				return nil
			}
			rows := make([][]string, 0, len(res))
			for _, a := range res {
				rows = append(rows, []string{strconv.Itoa(a.Index), a.Filename, a.MimeType, formatBytes(a.Size), yesNo(a.Font)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"#", "File", "MIME", "Size", "Font"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func newAttachmentsExportCommand(ctx *commandContext) *cobra.Command {
	var dir string
	var all bool

	cmd := &cobra.Command{
		Use:   "export <file-or-url>",
		Short: "Save font attachments to the font directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = ctx.config.Fonts.Dir
			}
			mgr, sess, log, err := ctx.openSession(cmd.Context(), cmd, args[0], "")
			if err != nil {
				return err
			}
			defer mgr.CloseAll()

			store, err := fonts.Open(dir, log)
			if err != nil {
				return err
			}
			selected := sess.Container.Fonts()
			if all {
				selected = sess.Container.Attachments()
			}
			if len(selected) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No attachments to export")
				return nil
			}
			saved, exportErr := store.Export(cmd.Context(), sess.Container, selected)
			rows := make([][]string, 0, len(saved))
			for _, f := range saved {
				rows = append(rows, []string{f.Filename, formatBytes(f.Size), f.Path})
			}
			if len(rows) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"File", "Size", "Path"}, rows,
					[]columnAlignment{alignLeft, alignRight}))
			}
			return exportErr
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Destination directory (defaults to fonts.dir)")
	cmd.Flags().BoolVar(&all, "all", false, "Export every attachment, not only fonts")
	return cmd
}

func newAttachmentsFontsCommand(ctx *commandContext) *cobra.Command {
	var dir string
	var clear bool

	cmd := &cobra.Command{
		Use:   "fonts",
		Short: "Show or clear the exported font directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = ctx.config.Fonts.Dir
			}
			log, err := ctx.logger(cmd)
			if err != nil {
				return err
			}
			store, err := fonts.Open(dir, log)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if clear {
				if err := store.Clear(); err != nil {
					return err
				}
				fmt.Fprintf(out, "Cleared %s\n", store.Dir())
				return nil
			}
			list, err := store.List()
			if err != nil {
				return err
			}
			var total int64
			rows := make([][]string, 0, len(list))
			for _, f := range list {
				total += f.Size
				rows = append(rows, []string{f.Filename, formatBytes(f.Size), f.Hash})
			}
			fmt.Fprintf(out, "%s: %d fonts, %s\n", store.Dir(), len(list), formatBytes(total))
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable([]string{"File", "Size", "Hash"}, rows,
					[]columnAlignment{alignLeft, alignRight}))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Font directory (defaults to fonts.dir)")
	cmd.Flags().BoolVar(&clear, "clear", false, "Remove every stored font")
	return cmd
}
