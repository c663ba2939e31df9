package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkarpov/omrscore/internal/handler"
	appI18n "github.com/dkarpov/omrscore/internal/i18n"
	"github.com/dkarpov/omrscore/internal/key"
	"github.com/dkarpov/omrscore/internal/mapper"
	"github.com/dkarpov/omrscore/internal/marks"
	"github.com/dkarpov/omrscore/internal/model"
	"github.com/dkarpov/omrscore/internal/report"
	"github.com/dkarpov/omrscore/internal/scorer"
	"github.com/dkarpov/omrscore/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "omrscore",
		Short: "Optical-mark answer sheet scoring engine",
	}

	score := scoreCmd()
	root.AddCommand(score, calibrateCmd(), keygenCmd(), serveCmd(), exportCmd())

	// Make "score" the default when no subcommand is given.
	root.RunE = score.RunE

	// Register score flags on root so bare `omrscore --marks ...` still works.
	root.Flags().AddFlagSet(score.Flags())

	return root
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score detected marks against an answer key",
		RunE:  runScore,
	}
	f := cmd.Flags()
	f.StringP("config", "c", "answer_key.toml", "Answer key TOML path")
	f.StringP("marks", "m", "", "Detected marks JSON path (required)")
	f.StringP("out", "o", "report", "Report output directory")
	f.String("db", "", "SQLite results database path (empty = no persistence)")
	f.Int("workers", 0, "Concurrent sheets (0 = number of CPUs)")
	f.String("boundaries", "", "Calibrated boundary table JSON path")
	f.Bool("calibrate-from-marks", false, "Derive the boundary table from this batch's own marks")
	f.StringP("lang", "l", "en", "Report language (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	_ = cmd.MarkFlagRequired("marks")
	return cmd
}

func calibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Derive a boundary table from detected marks",
		RunE:  runCalibrate,
	}
	f := cmd.Flags()
	f.StringP("marks", "m", "", "Detected marks JSON path (required)")
	f.Int("columns", len(model.NumericSymbols), "Table columns: 13 for numeric grids, or the letter choice count")
	f.StringP("out", "o", "-", "Boundary table output path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	_ = cmd.MarkFlagRequired("marks")
	return cmd
}

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an answer key configuration",
		RunE:  runKeygen,
	}
	f := cmd.Flags()
	f.String("name", "Exam", "Exam name")
	f.IntP("questions", "n", 50, "Total questions")
	f.Float64("passing", 60, "Passing score percentage")
	f.String("date", "", "Exam date YYYY-MM-DD (default today)")
	f.String("format", "letter", "Answer format (letter, numeric)")
	f.Int("choices", 5, "Choices per question (letter exams)")
	f.Int("max-chars", model.DefaultMaxCharacters, "Numeric field width including the sign slot")
	f.String("pattern", "", "Repeat answers from a pattern, e.g. ABCDE")
	f.StringSlice("answers", nil, "Explicit answer list (comma separated)")
	f.String("filler", "", "Filler answer when the list is short")
	f.StringArray("section", nil, `Section spec "Name (start-end)=PATTERN" (repeatable)`)
	f.Bool("samples", false, "Write the stock sample configurations instead")
	f.StringP("out", "o", "answer_key.toml", "Output TOML path (directory with --samples)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP scoring API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("config", "c", "answer_key.toml", "Answer key TOML path")
	f.String("db", "omrscore.db", "SQLite results database path")
	f.String("boundaries", "", "Calibrated boundary table JSON path")
	f.Int("workers", 0, "Concurrent sheets per request (0 = number of CPUs)")
	f.String("api-password", "", "API bearer password (or set OMRSCORE_API_PASSWORD)")
	f.StringP("lang", "l", "en", "Response language (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Re-emit report artifacts for a stored batch",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "omrscore.db", "SQLite results database path")
	f.String("batch", "", "Batch ID (default: most recent)")
	f.StringP("out", "o", "report", "Report output directory")
	f.StringP("lang", "l", "en", "Report language (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("OMRSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("omrscore")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/omrscore")
	v.AddConfigPath("/etc/omrscore")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runScore(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	keys, err := key.Load(v.GetString("config"))
	if err != nil {
		return fmt.Errorf("load answer key: %w", err)
	}
	slog.Info("answer key loaded",
		"exam", keys.Spec().Name,
		"questions", keys.TotalQuestions(),
		"format", keys.Spec().AnswerFormat,
	)

	marksPath := v.GetString("marks")
	data, err := os.ReadFile(marksPath)
	if err != nil {
		return fmt.Errorf("read marks: %w", err)
	}
	sheets, err := marks.DecodeSheets(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode marks: %w", err)
	}

	m, err := buildMapper(keys, v, sheets)
	if err != nil {
		return err
	}

	calc := scorer.New(keys, m, v.GetInt("workers"))
	res := calc.ScoreBatch(sheets)
	rep := report.Summarize(keys.Spec(), res.Scores, res.Skipped)

	lang, err := pickLanguage(v.GetString("lang"))
	if err != nil {
		return err
	}
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(lang))

	paths, err := report.Save(ctx, v.GetString("out"), rep)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	for kind, path := range paths {
		slog.Info("report written", "kind", kind, "path", path)
	}

	if dbPath := v.GetString("db"); dbPath != "" {
		if err := persistBatch(dbPath, marksPath, data, rep); err != nil {
			return err
		}
	}

	fmt.Print(report.Text(ctx, rep))

	if rep.ScoredCount == 0 {
		return fmt.Errorf("no sheets scored, %d skipped", rep.SkippedCount)
	}
	return nil
}

// buildMapper picks the boundary source: an explicit table file wins, then
// self-calibration from the batch's own marks, then the printed layout.
func buildMapper(keys *key.Manager, v *viper.Viper, sheets []marks.RawSheet) (*mapper.Mapper, error) {
	if path := v.GetString("boundaries"); path != "" {
		table, err := loadTable(path)
		if err != nil {
			return nil, err
		}
		slog.Info("using calibrated boundaries", "path", path, "columns", len(table.Labels))
		return mapper.NewWithTable(keys.Spec(), keys.Layout(), table)
	}
	if v.GetBool("calibrate-from-marks") {
		xs := collectXs(sheets)
		table, err := mapper.Calibrate(keys.ChoiceLabels(), xs)
		if err != nil {
			return nil, fmt.Errorf("calibrate from marks: %w", err)
		}
		slog.Info("calibrated from batch marks", "samples", len(xs))
		return mapper.NewWithTable(keys.Spec(), keys.Layout(), table)
	}
	return mapper.New(keys.Spec(), keys.Layout(), keys.ChoiceLabels())
}

func loadTable(path string) (mapper.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mapper.Table{}, fmt.Errorf("read boundaries: %w", err)
	}
	var table mapper.Table
	if err := json.Unmarshal(data, &table); err != nil {
		return mapper.Table{}, fmt.Errorf("parse boundaries: %w", err)
	}
	return table, nil
}

// collectXs gathers every mark x-coordinate in the batch, grouped and
// ungrouped shapes alike. Unparseable sheets contribute nothing here; they
// are skipped with a reason during scoring.
func collectXs(sheets []marks.RawSheet) []float64 {
	var xs []float64
	for _, sheet := range sheets {
		parsed, err := sheet.Parse()
		if err != nil {
			continue
		}
		for _, ms := range parsed.Grouped {
			for _, mk := range ms {
				xs = append(xs, mk.X)
			}
		}
		for _, mk := range parsed.Ungrouped {
			xs = append(xs, mk.X)
		}
	}
	return xs
}

// pickLanguage validates the requested language against the embedded
// locales and initializes the translation bundle.
func pickLanguage(lang string) (string, error) {
	if !slices.Contains(appI18n.Available(), lang) {
		slog.Warn("unsupported language, falling back", "lang", lang, "fallback", appI18n.Default)
		lang = appI18n.Default
	}
	if err := appI18n.Init(lang); err != nil {
		return "", fmt.Errorf("init i18n: %w", err)
	}
	return lang, nil
}

func persistBatch(dbPath, marksPath string, marksData []byte, rep model.BatchReport) error {
	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hash := sha256sum(marksData)
	if prev, err := db.MarksFileSeen(marksPath, hash); err == nil && prev != "" {
		slog.Warn("marks file was already scored", "path", marksPath, "previous_batch", prev)
	}

	if err := db.SaveBatch(rep); err != nil {
		return fmt.Errorf("persist batch: %w", err)
	}
	if err := db.RecordMarksFile(marksPath, hash, rep.ID); err != nil {
		slog.Warn("record marks file", "error", err)
	}
	slog.Info("batch persisted", "batch_id", rep.ID, "db", dbPath)
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func runCalibrate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	f, err := os.Open(v.GetString("marks"))
	if err != nil {
		return fmt.Errorf("read marks: %w", err)
	}
	sheets, err := marks.DecodeSheets(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode marks: %w", err)
	}

	columns := v.GetInt("columns")
	var labels []string
	switch {
	case columns == len(model.NumericSymbols):
		labels = model.NumericSymbols
	case columns >= 2 && columns <= 26:
		labels = model.LetterChoices(columns)
	default:
		return fmt.Errorf("columns must be %d (numeric) or a letter count 2..26, got %d",
			len(model.NumericSymbols), columns)
	}

	xs := collectXs(sheets)
	table, err := mapper.Calibrate(labels, xs)
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	slog.Info("calibrated", "columns", len(table.Labels), "samples", len(xs))

	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal table: %w", err)
	}
	return writeOutput(v.GetString("out"), data)
}

func writeOutput(outPath string, data []byte) error {
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	out := v.GetString("out")

	if v.GetBool("samples") {
		if out == "answer_key.toml" {
			out = "."
		}
		if err := os.MkdirAll(out, 0o755); err != nil {
			return fmt.Errorf("create sample dir: %w", err)
		}
		for _, sample := range key.Samples() {
			m, err := sample.Builder.Build()
			if err != nil {
				return fmt.Errorf("build %s: %w", sample.File, err)
			}
			path := filepath.Join(out, sample.File)
			if err := m.Save(path); err != nil {
				return fmt.Errorf("save %s: %w", sample.File, err)
			}
			slog.Info("sample written", "path", path)
		}
		return nil
	}

	b := key.NewBuilder(v.GetString("name"), v.GetInt("questions"), v.GetFloat64("passing"))
	if date := v.GetString("date"); date != "" {
		b.Date(date)
	}
	switch strings.ToLower(v.GetString("format")) {
	case "numeric":
		b.Numeric(v.GetInt("max-chars"))
	case "letter", "":
		b.Choices(v.GetInt("choices"))
	default:
		return fmt.Errorf("unknown format %q", v.GetString("format"))
	}

	sections := v.GetStringSlice("section")
	answers := v.GetStringSlice("answers")
	pattern := v.GetString("pattern")
	switch {
	case len(sections) > 0:
		specs, err := parseSectionFlags(sections)
		if err != nil {
			return err
		}
		if err := b.AnswersFromSections(specs); err != nil {
			return err
		}
	case len(answers) > 0:
		b.AnswersFromList(answers, v.GetString("filler"))
	case pattern != "":
		b.AnswersFromPattern(pattern)
	default:
		return fmt.Errorf("one of --pattern, --answers, or --section is required")
	}

	m, err := b.Build()
	if err != nil {
		return fmt.Errorf("build answer key: %w", err)
	}
	if err := m.Save(out); err != nil {
		return fmt.Errorf("save answer key: %w", err)
	}
	slog.Info("answer key written", "path", out, "questions", m.TotalQuestions())
	return nil
}

// parseSectionFlags turns "Name (1-25)=ABCDE" values into sections. A right
// side with commas is an explicit answer list instead of a pattern.
func parseSectionFlags(values []string) ([]key.Section, error) {
	var sections []key.Section
	for _, val := range values {
		title, rhs, ok := strings.Cut(val, "=")
		if !ok {
			return nil, fmt.Errorf("section %q: want \"Name (start-end)=PATTERN\"", val)
		}
		sec := key.Section{Title: strings.TrimSpace(title)}
		rhs = strings.TrimSpace(rhs)
		if strings.Contains(rhs, ",") {
			for _, tok := range strings.Split(rhs, ",") {
				sec.Answers = append(sec.Answers, strings.TrimSpace(tok))
			}
		} else {
			sec.Pattern = rhs
		}
		sections = append(sections, sec)
	}
	return sections, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	keys, err := key.Load(v.GetString("config"))
	if err != nil {
		return fmt.Errorf("load answer key: %w", err)
	}

	m, err := buildMapper(keys, v, nil)
	if err != nil {
		return err
	}
	calc := scorer.New(keys, m, v.GetInt("workers"))

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if n, err := db.BatchCount(); err == nil {
		slog.Info("results store opened", "path", v.GetString("db"), "batches", n)
	}

	lang, err := pickLanguage(v.GetString("lang"))
	if err != nil {
		return err
	}

	var cfg handler.Config
	if pw := v.GetString("api-password"); pw != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash API password: %w", err)
		}
		cfg.TokenHash = hash
	} else {
		slog.Warn("API authentication disabled: set --api-password or OMRSCORE_API_PASSWORD")
	}

	h := handler.New(keys, calc, db, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"exam", keys.Spec().Name,
		"questions", keys.TotalQuestions(),
		"format", keys.Spec().AnswerFormat,
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var rep *model.BatchReport
	if id := v.GetString("batch"); id != "" {
		rep, err = db.GetBatch(id)
		if err != nil {
			return fmt.Errorf("load batch: %w", err)
		}
		if rep == nil {
			return fmt.Errorf("batch %s not found", id)
		}
	} else {
		rep, err = db.LatestBatch()
		if err != nil {
			return fmt.Errorf("load latest batch: %w", err)
		}
		if rep == nil {
			return fmt.Errorf("no batches stored in %s", v.GetString("db"))
		}
	}

	lang, err := pickLanguage(v.GetString("lang"))
	if err != nil {
		return err
	}
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(lang))

	paths, err := report.Save(ctx, v.GetString("out"), *rep)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	for kind, path := range paths {
		slog.Info("report written", "kind", kind, "path", path, "batch_id", rep.ID)
	}
	return nil
}
