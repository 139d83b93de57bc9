package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/smartcontractkit/govbench/config"
	"github.com/smartcontractkit/govbench/internal/jsonutils"
	"github.com/smartcontractkit/govbench/metrics"
	"github.com/smartcontractkit/govbench/pkg/logger"
)

// Emitter writes a summary somewhere.
type Emitter interface {
	Emit(ctx context.Context, s Summary) error
}

// NewEmitters returns one emitter per configured format.
func NewEmitters(cfg config.ReportConfig, lggr logger.Logger) ([]Emitter, error) {
	out := make([]Emitter, 0, len(cfg.Formats))
	for _, f := range cfg.Formats {
		switch f {
		case config.FormatJSON:
			out = append(out, &JSONEmitter{Dir: cfg.Dir})
		case config.FormatTOML:
			out = append(out, &TOMLEmitter{Dir: cfg.Dir})
		case config.FormatMarkdown:
			out = append(out, &MarkdownEmitter{Dir: cfg.Dir})
		case config.FormatLog:
			out = append(out, &LogEmitter{Logger: lggr})
		default:
			return nil, fmt.Errorf("unknown report format %q", f)
		}
	}

	return out, nil
}

// FileName is the name of the report file of s with the given extension.
func FileName(s Summary, ext string) string {
	return fmt.Sprintf("report_%s.%s", s.ID, ext)
}

// JSONEmitter writes report_<id>.json into Dir.
type JSONEmitter struct {
	Dir string
}

func (e *JSONEmitter) Emit(_ context.Context, s Summary) error {
	path := filepath.Join(e.Dir, FileName(s, "json"))
	if err := jsonutils.WriteFile(path, s); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	return nil
}

// TOMLEmitter writes report_<id>.toml into Dir.
type TOMLEmitter struct {
	Dir string
}

func (e *TOMLEmitter) Emit(_ context.Context, s Summary) error {
	b, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal TOML report: %w", err)
	}

	return writeFile(filepath.Join(e.Dir, FileName(s, "toml")), b)
}

// MarkdownEmitter writes report_<id>.md into Dir.
type MarkdownEmitter struct {
	Dir string
}

func (e *MarkdownEmitter) Emit(_ context.Context, s Summary) error {
	return writeFile(filepath.Join(e.Dir, FileName(s, "md")), []byte(Markdown(s)))
}

// LogEmitter logs one [GAS] line per run and metric.
type LogEmitter struct {
	Logger logger.Logger
}

func (e *LogEmitter) Emit(_ context.Context, s Summary) error {
	for _, r := range s.Runs {
		for _, metric := range metrics.Metrics {
			e.Logger.Infof("[GAS] %s %s: %s", r.Label, metric, formatValue(r.Value(metric)))
		}
		e.Logger.Infow("[GAS] run finished", "scenario", r.Label, "outcome", r.Outcome,
			"path", r.Path, "stages", strings.Join(r.Stages, ">"))
	}
	for _, c := range s.Comparisons {
		for _, d := range c.Deltas {
			e.Logger.Infof("[GAS] %s %s: %s -> %s (%+.2f%%)", c.Label, d.Metric,
				formatValue(d.Baseline), formatValue(d.Candidate), d.Percent)
		}
	}
	for _, f := range s.Failures {
		e.Logger.Warnw("[GAS] scenario failed", "scenario", f.Label, "stage", f.Stage, "err", f.Error)
	}

	return nil
}

func writeFile(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}

	return nil
}
