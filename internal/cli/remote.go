package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dpr/internal/api"
	"dpr/internal/grpcserver"
	"dpr/internal/pipeline"
	"dpr/internal/storage"
)

type remoteClient interface {
	Submit(ctx context.Context, req api.SubmitRequest) (pipeline.Job, error)
	Runs(ctx context.Context, limit int) ([]storage.RunRecord, error)
}

type remoteDialer func(addr string, opts grpcserver.DialOptions) (remoteClient, func() error, error)

func defaultRemoteDial(addr string, opts grpcserver.DialOptions) (remoteClient, func() error, error) {
	conn, err := grpcserver.Dial(addr, opts)
	if err != nil {
		return nil, nil, err
	}
	return grpcserver.NewClient(conn), conn.Close, nil
}

func newRemoteCmd(root *Root) *cobra.Command {
	var (
		addr string
		tls  grpcserver.DialOptions
	)

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Talk to a running dpr grpc service",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", root.cfg.Server.GRPCAddr, "server address")
	cmd.PersistentFlags().BoolVar(&tls.Insecure, "insecure", false, "disable TLS")
	cmd.PersistentFlags().StringVar(&tls.CACertPath, "ca-cert", "", "CA certificate for server verification")
	cmd.PersistentFlags().StringVar(&tls.TLSCertPath, "cert", "", "client certificate")
	cmd.PersistentFlags().StringVar(&tls.TLSKeyPath, "key", "", "client key")

	connect := func() (remoteClient, func() error, error) {
		return root.dialFn(addr, tls)
	}

	var (
		req      api.SubmitRequest
		temporal string
		gain     float64
	)
	submitCmd := &cobra.Command{
		Use:   "submit <input>",
		Short: "Queue a stack that is visible to the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeFn, err := connect()
			if err != nil {
				return err
			}
			defer closeFn()

			req.Input = args[0]
			req.Options = map[string]any{}
			if cmd.Flags().Changed("temporal") {
				req.Options["temporal"] = temporal
			}
			if cmd.Flags().Changed("gain") {
				req.Options["gain"] = gain
			}
			job, err := client.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(root.out, "queued %s (output %s)\n", job.ID, job.Output)
			return nil
		},
	}
	submitCmd.Flags().Float64Var(&req.PSF, "psf", root.cfg.DPR.PSF, "PSF FWHM in pixels")
	submitCmd.Flags().Float64Var(&gain, "gain", root.cfg.DPR.Gain, "displacement gain")
	submitCmd.Flags().StringVar(&temporal, "temporal", "none", "temporal combination (none|mean|var)")
	submitCmd.Flags().StringVarP(&req.Output, "output", "o", "", "output directory on the server")
	submitCmd.Flags().StringVar(&req.Title, "title", "", "output name prefix")

	var limit int
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeFn, err := connect()
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := client.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(root.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSOURCE\tSTATUS\tCREATED\tINPUT")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Source, r.Status, r.CreatedAt.Format(time.DateTime), r.InputPath)
			}
			return tw.Flush()
		},
	}
	runsCmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")

	cmd.AddCommand(submitCmd, runsCmd)
	return cmd
}
