package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gracegarden/community-hub/internal/application/command"
	"github.com/gracegarden/community-hub/internal/application/query"
	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
)

func newAwardCmd(rt *runtime) *cobra.Command {
	var contentID string

	cmd := &cobra.Command{
		Use:   "award <user-id> <activity>",
		Short: "Award an activity to a user",
		Long:  "Award an activity to a user. Known activities:\n  " + strings.Join(activityNames(), "\n  "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			kind, err := progression.ParseActivityKind(args[1])
			if err != nil {
				return err
			}

			svc, err := rt.open()
			if err != nil {
				return err
			}
			defer rt.close()
			ctx, cancel := rt.context()
			defer cancel()

			res, err := svc.Award.Handle(ctx, command.AwardActivityCommand{
				UserID:    userID,
				Activity:  kind,
				ContentID: shared.ContentID(contentID),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rt.asJSON {
				return writeJSON(out, res)
			}
			printDelta(out, res.Delta, res.Progression, res.Tier)
			return nil
		},
	}

	cmd.Flags().StringVar(&contentID, "content", "", "Content ID for content_completed / content_uncompleted")
	return cmd
}

func newLoginCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "login <user-id>",
		Short: "Register today's login for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}

			svc, err := rt.open()
			if err != nil {
				return err
			}
			defer rt.close()
			ctx, cancel := rt.context()
			defer cancel()

			res, err := svc.Login.Handle(ctx, command.DailyLoginCommand{UserID: userID})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rt.asJSON {
				return writeJSON(out, res)
			}
			if !res.Applied {
				fmt.Fprintf(out, "Already credited for %s (streak %d)\n", res.Today, res.Progression.CurrentStreak)
				return nil
			}
			printDelta(out, res.Delta, res.Progression, res.Tier)
			return nil
		},
	}
}

func newShowCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's progression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}

			svc, err := rt.open()
			if err != nil {
				return err
			}
			defer rt.close()
			ctx, cancel := rt.context()
			defer cancel()

			dto, err := svc.Progress.Handle(ctx, query.GetProgressionQuery{UserID: userID})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rt.asJSON {
				return writeJSON(out, dto)
			}
			printProgression(out, dto)
			return nil
		},
	}
}

func newTiersCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List levels, activity points and achievements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := query.GetCatalog(progression.NewResolver())

			out := cmd.OutOrStdout()
			if rt.asJSON {
				return writeJSON(out, catalog)
			}

			fmt.Fprintln(out, "Levels:")
			for _, row := range catalog.Tiers {
				fmt.Fprintf(out, "  %-10s from %5d XP\n", row.Level, row.Threshold)
			}
			fmt.Fprintln(out, "Activities:")
			for _, a := range catalog.Activities {
				streak := ""
				if a.QualifiesForStreak {
					streak = " (counts for streak)"
				}
				fmt.Fprintf(out, "  %-28s %+4d%s\n", a.Kind, a.Points, streak)
			}
			fmt.Fprintln(out, "Achievements:")
			for _, def := range catalog.Achievements {
				fmt.Fprintf(out, "  %s %-24s %s\n", def.Emoji, def.Name, def.Description)
			}
			return nil
		},
	}
}

func newTopCmd(rt *runtime) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "top",
		Short: "List users with the most experience",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.open()
			if err != nil {
				return err
			}
			defer rt.close()
			if svc.Ranker == nil {
				return fmt.Errorf("store does not support ranking")
			}
			ctx, cancel := rt.context()
			defer cancel()

			ids, err := svc.Ranker.ListUserIDs(ctx, limit)
			if err != nil {
				return err
			}

			rows := make([]*query.ProgressionDTO, 0, len(ids))
			for _, id := range ids {
				dto, err := svc.Progress.Handle(ctx, query.GetProgressionQuery{UserID: id})
				if err != nil {
					return err
				}
				rows = append(rows, dto)
			}

			out := cmd.OutOrStdout()
			if rt.asJSON {
				return writeJSON(out, rows)
			}
			for i, dto := range rows {
				fmt.Fprintf(out, "%2d. %s  %5d XP  %-10s streak %d\n",
					i+1, dto.UserID, dto.Experience, dto.Tier.Level, dto.Streak.Effective)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of users to list")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// FORMATTING
// ══════════════════════════════════════════════════════════════════════════════

func activityNames() []string {
	specs := progression.AllActivitySpecs()
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, string(s.Kind))
	}
	return names
}

func printDelta(w io.Writer, d progression.Delta, p *progression.UserProgression, tier progression.TierInfo) {
	fmt.Fprintf(w, "%s: %+d XP", d.Activity, d.PointsAwarded)
	if d.BonusPoints > 0 {
		fmt.Fprintf(w, " (incl. %d streak bonus)", d.BonusPoints)
	}
	fmt.Fprintf(w, " -> %d XP, %s\n", p.Experience.Int(), p.Level)

	if d.LeveledUp {
		fmt.Fprintf(w, "Level up: %s -> %s\n", d.PreviousLevel, d.NewLevel)
	} else if d.LevelChanged {
		fmt.Fprintf(w, "Level changed: %s -> %s\n", d.PreviousLevel, d.NewLevel)
	}
	if d.StreakBroken {
		fmt.Fprintf(w, "Streak of %d broken after %d missed day(s)\n", d.PreviousStreak, d.DaysMissed)
	}
	if d.StreakAdvanced {
		fmt.Fprintf(w, "Streak: %d day(s)", p.CurrentStreak)
		if d.IsNewRecord {
			fmt.Fprint(w, " (new record)")
		}
		fmt.Fprintln(w)
	}
	for _, id := range d.AchievementsUnlocked {
		if def, ok := progression.GetAchievementDefinition(id); ok {
			fmt.Fprintf(w, "Unlocked: %s %s\n", def.Emoji, def.Name)
			continue
		}
		fmt.Fprintf(w, "Unlocked: %s\n", id)
	}
	if !tier.IsTerminal {
		fmt.Fprintf(w, "%d XP to %s\n", tier.PointsToNext, tier.Next)
	}
}

func printProgression(w io.Writer, dto *query.ProgressionDTO) {
	fmt.Fprintf(w, "User:        %s\n", dto.UserID)
	fmt.Fprintf(w, "Experience:  %d\n", dto.Experience)
	fmt.Fprintf(w, "Level:       %s (%d%% to %s)\n", dto.Tier.Level, dto.ProgressPercent, dto.Tier.Next)
	fmt.Fprintf(w, "Streak:      %d (best %d)\n", dto.Streak.Effective, dto.Streak.Longest)

	switch dto.Streak.DaysUntilBreak {
	case 2:
		fmt.Fprintln(w, "             active today")
	case 1:
		fmt.Fprintln(w, "             be active today to keep it")
	}

	if len(dto.Achievements) == 0 {
		fmt.Fprintln(w, "Achievements: none yet")
		return
	}
	fmt.Fprintln(w, "Achievements:")
	for _, def := range dto.Achievements {
		fmt.Fprintf(w, "  %s %s\n", def.Emoji, def.Name)
	}
}
