package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"changeguard/internal/domain"
	"changeguard/internal/service/risk"
	"changeguard/internal/service/simulation"
	"changeguard/internal/traffic"
)

// assessResult is the JSON shape of `changeguard assess -o json`.
type assessResult struct {
	Score       int                      `json:"score"`
	Level       domain.RiskLevel         `json:"level"`
	BlastRadius domain.BlastRadius       `json:"blast_radius"`
	Reasoning   []string                 `json:"reasoning"`
	Simulation  *domain.SimulationReport `json:"simulation,omitempty"`
}

func newAssessCmd() *cobra.Command {
	var (
		file        string
		trafficFrom string
		simulate    bool
	)

	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Score a change described in a YAML file without storing it",
		Long: "Score a change described in a YAML file without storing it. With --simulate the " +
			"change is also run against a traffic sample (--traffic, or the built-in sample).",
		Example: "  changeguard assess -f change.yaml\n  changeguard assess -f change.yaml --simulate --traffic sample_data/traffic.jsonl -o json",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := readChangeFile(cmd, file)
			if err != nil {
				return err
			}
			c, err := draftChange(req)
			if err != nil {
				return err
			}

			a := risk.Assess(c)
			res := assessResult{
				Score:       a.Score,
				Level:       a.Level,
				BlastRadius: a.BlastRadius,
				Reasoning:   a.Reasoning,
			}

			if simulate || trafficFrom != "" {
				records, err := loadTraffic(cmd, trafficFrom)
				if err != nil {
					return err
				}
				res.Simulation = simulation.Simulate(c, records)
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printAssessTable(cmd.OutOrStdout(), c, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file describing the change (\"-\" reads stdin)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Also simulate the change against a traffic sample")
	cmd.Flags().StringVar(&trafficFrom, "traffic", "", "Traffic sample location (path, s3://bucket/key, duckdb:<path>); implies --simulate")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readChangeFile(cmd *cobra.Command, path string) (domain.CreateChangeRequest, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path) //nolint:gosec // path is operator-supplied
	}
	if err != nil {
		return domain.CreateChangeRequest{}, fmt.Errorf("read change file: %w", err)
	}

	var req domain.CreateChangeRequest
	if err := yaml.Unmarshal(raw, &req); err != nil {
		return domain.CreateChangeRequest{}, fmt.Errorf("parse change file: %w", err)
	}
	return req, nil
}

// draftChange validates req and builds the draft change it would create.
func draftChange(req domain.CreateChangeRequest) (*domain.Change, error) {
	if req.CreatedBy == "" {
		req.CreatedBy = "cli"
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c := &domain.Change{
		Title:       req.Title,
		Description: req.Description,
		Environment: domain.Environment(req.Environment),
		Status:      domain.ChangeStatusDraft,
		CreatedBy:   req.CreatedBy,
		Items:       make([]domain.ChangeItem, len(req.Items)),
	}
	for i, it := range req.Items {
		c.Items[i] = domain.ChangeItem{Position: i, Key: it.Key, OldValue: it.OldValue, NewValue: it.NewValue}
	}
	return c, nil
}

// loadTraffic loads the sample at location, falling back to the built-in
// sample when the location is empty or unreachable.
func loadTraffic(cmd *cobra.Command, location string) ([]domain.TrafficRecord, error) {
	if location == "" {
		return simulation.BuiltinTraffic(), nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	source, err := traffic.New(location, traffic.S3Options{
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
		KeyID:     cfg.S3.KeyID,
		Secret:    cfg.S3.Secret,
		PathStyle: cfg.S3.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	if source == nil {
		return simulation.BuiltinTraffic(), nil
	}
	records, err := source.Load(cmd.Context())
	if errors.Is(err, domain.ErrTrafficUnavailable) {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; using built-in sample\n", err)
		return simulation.BuiltinTraffic(), nil
	}
	return records, err
}

func printAssessTable(w io.Writer, c *domain.Change, res assessResult) {
	_, _ = fmt.Fprintf(w, "Change:      %s (%s, %d items)\n", c.Title, c.Environment, len(c.Items))
	_, _ = fmt.Fprintf(w, "Score:       %d\n", res.Score)
	_, _ = fmt.Fprintf(w, "Level:       %s\n", res.Level)
	_, _ = fmt.Fprintf(w, "Components:  %s\n", joinOrDash(res.BlastRadius.AffectedComponents))
	_, _ = fmt.Fprintf(w, "Endpoints:   %s\n", joinOrDash(res.BlastRadius.AffectedEndpoints))
	_, _ = fmt.Fprintln(w, "Reasoning:")
	for _, r := range res.Reasoning {
		_, _ = fmt.Fprintf(w, "  - %s\n", r)
	}

	if s := res.Simulation; s != nil {
		_, _ = fmt.Fprintln(w, "Simulation:")
		_, _ = fmt.Fprintf(w, "  Sample size:          %d\n", s.SampleSize)
		_, _ = fmt.Fprintf(w, "  Base fail rate:       %.4f\n", s.BaseFailRate)
		_, _ = fmt.Fprintf(w, "  Predicted fail rate:  %.4f\n", s.PredictedFailRate)
		_, _ = fmt.Fprintf(w, "  Latency delta (ms):   %d\n", s.PredictedLatencyDeltaMS)
	}
}

func joinOrDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ", ")
}
