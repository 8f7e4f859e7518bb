package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/cli/config"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
	"github.com/secmon-lab/changegate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

var statusColors = map[types.ChangeStatus]*color.Color{
	types.ChangeStatusSubmitted:    color.New(color.FgCyan),
	types.ChangeStatusReviewed:     color.New(color.FgBlue),
	types.ChangeStatusRevision:     color.New(color.FgYellow),
	types.ChangeStatusApproved:     color.New(color.FgGreen),
	types.ChangeStatusScheduled:    color.New(color.FgMagenta),
	types.ChangeStatusImplementing: color.New(color.FgHiBlue, color.Bold),
	types.ChangeStatusCompleted:    color.New(color.FgHiGreen, color.Bold),
	types.ChangeStatusFailed:       color.New(color.FgRed, color.Bold),
	types.ChangeStatusClosed:       color.New(color.Faint),
}

func cmdChanges() *cli.Command {
	var status string
	var submittedBy string
	var assignee string
	repoCfg := config.NewDeviceRepository()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "status",
			Usage:       "Only list change requests in this status",
			Destination: &status,
		},
		&cli.StringFlag{
			Name:        "submitted-by",
			Usage:       "Only list change requests of this submitter",
			Destination: &submittedBy,
		},
		&cli.StringFlag{
			Name:        "assignee",
			Usage:       "Only list change requests assigned to this technician",
			Destination: &assignee,
		},
	}
	flags = append(flags, repoCfg.Flags()...)

	return &cli.Command{
		Name:    "changes",
		Aliases: []string{"ls"},
		Usage:   "List change requests of a store",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			var opts []interfaces.ListChangeRequestOption
			if status != "" {
				s, err := types.ParseChangeStatus(status)
				if err != nil {
					return goerr.Wrap(model.ErrValidation, "invalid status", goerr.V("status", status))
				}
				opts = append(opts, interfaces.WithStatus(s))
			}
			if submittedBy != "" {
				opts = append(opts, interfaces.WithSubmittedBy(types.UserID(submittedBy)))
			}
			if assignee != "" {
				opts = append(opts, interfaces.WithAssignee(types.UserID(assignee)))
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			crs, err := repo.ChangeRequest().List(ctx, opts...)
			if err != nil {
				return goerr.Wrap(err, "failed to list change requests")
			}
			state, err := repo.GetSyncState(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to load sync state")
			}

			return printChangeRequests(c.Root().Writer, crs, state)
		},
	}
}

func printChangeRequests(w io.Writer, crs []*model.ChangeRequest, state *model.SyncState) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "TICKET\tSTATUS\tCLASS\tSUBMITTER\tASSIGNEE\tUPDATED\tTITLE"); err != nil {
		return goerr.Wrap(err, "failed to write header")
	}

	for _, cr := range crs {
		status := cr.Status.String()
		if c, ok := statusColors[cr.Status]; ok {
			status = c.Sprint(status)
		}
		assignee := string(cr.AssignedTechnicianID)
		if assignee == "" {
			assignee = "-"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			cr.TicketID, status, cr.Classification, cr.SubmittedBy, assignee,
			cr.UpdatedAt.Local().Format(time.DateTime), cr.Title); err != nil {
			return goerr.Wrap(err, "failed to write change request")
		}
	}
	if err := tw.Flush(); err != nil {
		return goerr.Wrap(err, "failed to flush output")
	}

	if state != nil && state.UserID != "" {
		line := fmt.Sprintf("%d change request(s), signed in as %s", len(crs), state.UserID)
		if !state.LastSuccessAt.IsZero() {
			line += ", last sync " + state.LastSuccessAt.Local().Format(time.DateTime)
		}
		_, _ = fmt.Fprintln(w, color.New(color.Faint).Sprint(line))
	}
	return nil
}
