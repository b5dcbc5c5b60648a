package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	levels         int
	levelTime      time.Duration
	port           int
	prefix         string
	profile        bool
	scoring        string
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	scoringTable []int
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.levels < 1 {
		return fmt.Errorf("invalid level count (must be at least 1): %d", c.levels)
	}
	if c.levelTime <= 0 {
		return fmt.Errorf("invalid level time budget: %s", c.levelTime)
	}

	table, err := parseScoringTable(c.scoring)
	if err != nil {
		return err
	}
	c.scoringTable = table

	return nil
}

// parseScoringTable turns "10,8,6,5,1,3,1" into points-by-rank. The default
// table reproduces the original game, including its rank-5 value sitting below
// rank 6 — swap the table via --scoring if product ever wants that fixed.
func parseScoringTable(s string) ([]int, error) {
	fields := strings.Split(s, ",")
	if len(fields) == 0 || (len(fields) == 1 && strings.TrimSpace(fields[0]) == "") {
		return nil, errors.New("scoring table must contain at least one value")
	}

	table := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("invalid scoring table entry %q: %w", f, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("scoring table entries cannot be negative: %d", n)
		}
		table = append(table, n)
	}

	return table, nil
}

// pointsForRank awards by 1-based rank; ranks past the end of the table get
// the table's last entry.
func (c *Config) pointsForRank(rank int) int {
	if rank < 1 || len(c.scoringTable) == 0 {
		return 0
	}
	if rank > len(c.scoringTable) {
		return c.scoringTable[len(c.scoringTable)-1]
	}
	return c.scoringTable[rank-1]
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("WTA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "wheretheandreas",
		Short:         "A multiplayer find-the-hidden-target party game, local or online.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: WTA_BIND)")
	fs.IntVar(&cfg.levels, "levels", 5, "number of levels per match (env: WTA_LEVELS)")
	fs.DurationVar(&cfg.levelTime, "level-time", 30*time.Second, "time budget per level (env: WTA_LEVEL_TIME)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: WTA_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: WTA_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: WTA_PROFILE)")
	fs.StringVar(&cfg.scoring, "scoring", "10,8,6,5,1,3,1", "comma-separated points awarded by placement (env: WTA_SCORING)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game rooms are reaped (env: WTA_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: WTA_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: WTA_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: WTA_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: WTA_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("wheretheandreas v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
