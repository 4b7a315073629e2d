// Package cli implements progressctl, a local command-line front end to the
// progression engine backed by a SQLite file.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gracegarden/community-hub/internal/application/command"
	"github.com/gracegarden/community-hub/internal/application/query"
	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/internal/infrastructure/persistence/memory"
	"github.com/gracegarden/community-hub/internal/infrastructure/persistence/sqlite"
	"github.com/gracegarden/community-hub/pkg/logger"
	"github.com/gracegarden/community-hub/pkg/timeutil"
)

// EnvDBPath overrides the default database location.
const EnvDBPath = "PROGRESSCTL_DB"

// Ranker lists users ordered by experience.
type Ranker interface {
	ListUserIDs(ctx context.Context, limit int) ([]shared.UserID, error)
}

// Services holds the handlers the commands run against.
type Services struct {
	Award    *command.AwardActivityHandler
	Login    *command.DailyLoginHandler
	Progress *query.GetProgressionHandler
	Ranker   Ranker
	Resolver *progression.Resolver
	Close    func() error
}

// Factory opens Services for a database path and clock.
type Factory func(dbPath string, clock timeutil.Clock) (*Services, error)

// SQLiteFactory wires Services over a SQLite file.
func SQLiteFactory(log *logger.Logger) Factory {
	return func(dbPath string, clock timeutil.Clock) (*Services, error) {
		db, err := sqlite.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}

		repo := sqlite.NewProgressionRepository(db)
		resolver := progression.NewResolver()
		deps := command.Deps{
			Repository: repo,
			Locker:     memory.NewKeyedLocker(),
			Resolver:   resolver,
			Clock:      clock,
			Logger:     log,
		}
		cfg := command.DefaultConfig()

		return &Services{
			Award:    command.NewAwardActivityHandler(deps, cfg),
			Login:    command.NewDailyLoginHandler(deps, cfg),
			Progress: query.NewGetProgressionHandler(repo, resolver, clock, cfg.PersistTimeout, log),
			Ranker:   repo,
			Resolver: resolver,
			Close:    db.Close,
		}, nil
	}
}

// DefaultDBPath returns $PROGRESSCTL_DB or ~/.gracegarden/progress.db.
func DefaultDBPath() string {
	if p := os.Getenv(EnvDBPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "progress.db"
	}
	return filepath.Join(home, ".gracegarden", "progress.db")
}

// runtime carries root flag values and lazily opened services.
type runtime struct {
	factory  Factory
	dbPath   string
	date     string
	timezone string
	asJSON   bool
	timeout  time.Duration

	services *Services
}

func (rt *runtime) clock() (timeutil.Clock, error) {
	if rt.date != "" {
		day, err := timeutil.ParseDate(rt.date)
		if err != nil {
			return nil, fmt.Errorf("--date: %w", err)
		}
		return timeutil.NewFixedClock(day), nil
	}
	return timeutil.NewSystemClock(rt.timezone)
}

func (rt *runtime) open() (*Services, error) {
	if rt.services != nil {
		return rt.services, nil
	}
	clock, err := rt.clock()
	if err != nil {
		return nil, err
	}
	svc, err := rt.factory(rt.dbPath, clock)
	if err != nil {
		return nil, err
	}
	rt.services = svc
	return svc, nil
}

func (rt *runtime) close() error {
	if rt.services == nil || rt.services.Close == nil {
		return nil
	}
	err := rt.services.Close()
	rt.services = nil
	return err
}

func (rt *runtime) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), rt.timeout)
}

func (rt *runtime) bindFlags(flags *pflag.FlagSet) {
	flags.StringVar(&rt.dbPath, "db", DefaultDBPath(), "SQLite database file (env "+EnvDBPath+")")
	flags.StringVar(&rt.date, "date", "", "Treat this day (YYYY-MM-DD) as today")
	flags.StringVar(&rt.timezone, "tz", timeutil.DefaultTimezone, "Community timezone used to compute today")
	flags.BoolVar(&rt.asJSON, "json", false, "Print JSON instead of text")
	flags.DurationVar(&rt.timeout, "timeout", 10*time.Second, "Overall timeout per command")
}

// NewRootCmd creates the top-level "progressctl" command.
func NewRootCmd(factory Factory) *cobra.Command {
	rt := &runtime{factory: factory}

	root := &cobra.Command{
		Use:           "progressctl",
		Short:         "Inspect and drive member progression: experience, levels, streaks, achievements",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rt.bindFlags(root.PersistentFlags())

	root.AddCommand(
		newAwardCmd(rt),
		newLoginCmd(rt),
		newShowCmd(rt),
		newTiersCmd(rt),
		newTopCmd(rt),
	)

	return root
}

func parseUserID(arg string) (shared.UserID, error) {
	id, err := shared.NewUserID(arg)
	if err != nil {
		return "", fmt.Errorf("user id %q: must be a UUID", arg)
	}
	return id, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
