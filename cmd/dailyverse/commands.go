package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Luknarz/DailyVerse/internal/content"
	"github.com/Luknarz/DailyVerse/internal/daily"
	"github.com/Luknarz/DailyVerse/internal/entitlement"
	"github.com/Luknarz/DailyVerse/internal/favorites"
	"github.com/Luknarz/DailyVerse/internal/reference"
	"github.com/Luknarz/DailyVerse/internal/streak"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var errPremiumRequired = errors.New("reading history requires premium")

// withApplication builds the application for the duration of one command.
func withApplication(cmd *cobra.Command, run func(ctx context.Context, app *application) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return run(ctx, app)
}

func render(out io.Writer, value any) error {
	switch strings.ToLower(outputFormat) {
	case "yaml", "yml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(value); err != nil {
			return err
		}
		return encoder.Close()
	default:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		encoder.SetEscapeHTML(false)
		return encoder.Encode(value)
	}
}

func newTodayCommand() *cobra.Command {
	var share bool
	cmd := &cobra.Command{
		Use:   "today",
		Short: "Show today's verses, streak and passage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				date, err := app.today()
				if err != nil {
					return err
				}
				view, err := app.daily.Today(ctx, date)
				if err != nil {
					return err
				}
				if share {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n%s\n", daily.ShareText(view.Verses), daily.StreakShareText(view.Streak.Current))
					return err
				}
				return render(cmd.OutOrStdout(), view)
			})
		},
	}
	cmd.Flags().BoolVar(&share, "share", false, "Print shareable text instead of the day view")
	return cmd
}

func newExtraCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extra",
		Short: "Draw an extra verse for today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				date, err := app.today()
				if err != nil {
					return err
				}
				verse, err := app.daily.RequestExtraVerse(ctx, date)
				if errors.Is(err, daily.ErrExtraVerseLimit) {
					return fmt.Errorf("%w: premium unlocks unlimited extra verses", err)
				}
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), verse)
			})
		},
	}
}

func newReadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Mark today as read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				date, err := app.today()
				if err != nil {
					return err
				}
				snapshot, err := app.daily.MarkRead(ctx, date)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), snapshot)
			})
		},
	}
}

type streakReport struct {
	Snapshot streak.Snapshot    `json:"streak" yaml:"streak"`
	Recent   []streak.DayStatus `json:"recent" yaml:"recent"`
}

func newStreakCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "streak",
		Short: "Show the reading streak and recent days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				date, err := app.today()
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), streakReport{
					Snapshot: app.tracker.Snapshot(),
					Recent:   app.daily.RecentDayStatuses(days, date),
				})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", daily.RecentDays, "Number of recent days to show")
	return cmd
}

func newResetStreakCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-streak",
		Short: "Clear the reading streak",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				if err := app.daily.ResetStreak(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "streak reset")
				return err
			})
		},
	}
}

func newResetSequenceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-sequence",
		Short: "Reshuffle the verse sequence; past days keep their verses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				if err := app.daily.ResetSequence(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "sequence reset")
				return err
			})
		},
	}
}

func newParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <reference>",
		Short: "Parse a scripture reference such as \"John 1:1-3\"",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.Join(args, " ")
			parsed, ok := reference.Parse(input)
			if !ok {
				return fmt.Errorf("cannot parse reference %q", input)
			}
			return render(cmd.OutOrStdout(), parsed)
		},
	}
}

func newPassageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "passage",
		Short: "Show the daily passage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				date, err := app.today()
				if err != nil {
					return err
				}
				passage, ok := app.daily.Passage(date)
				if !ok {
					return errors.New("no passage available")
				}
				return render(cmd.OutOrStdout(), passage)
			})
		},
	}
}

func newFavoriteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "favorite <verse-id>",
		Short: "Toggle a verse as favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verseID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid verse id %q", args[0])
			}
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				if _, ok := app.daily.VerseByID(verseID); !ok && !app.favorites.IsFavorite(verseID) {
					return fmt.Errorf("verse %d not found", verseID)
				}
				favorite, err := app.favorites.Toggle(ctx, verseID)
				if errors.Is(err, favorites.ErrLimitReached) {
					return fmt.Errorf("%w: premium unlocks unlimited favorites", err)
				}
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), map[string]any{"verse_id": verseID, "favorite": favorite})
			})
		},
	}
}

func newFavoritesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "favorites",
		Short: "List favorite verses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				ids := app.favorites.List()
				verses := make([]content.Verse, 0, len(ids))
				for _, id := range ids {
					if verse, ok := app.daily.VerseByID(id); ok {
						verses = append(verses, verse)
					}
				}
				return render(cmd.OutOrStdout(), verses)
			})
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var export bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show reading history (premium)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				allowed, err := app.entitlements.CanAccess(ctx, entitlement.FeatureReadingHistory)
				if err != nil {
					return err
				}
				if !allowed {
					return errPremiumRequired
				}
				if export {
					payload, err := app.history.ExportJSON()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
					return err
				}
				return render(cmd.OutOrStdout(), app.history.Events())
			})
		},
	}
	cmd.Flags().BoolVar(&export, "export", false, "Print the history as an indented JSON export")
	return cmd
}

func newHistoryClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history-clear",
		Short: "Delete all reading history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				if err := app.history.Clear(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
				return err
			})
		},
	}
}

func newPremiumCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "premium on|off",
		Short:     "Grant or revoke the premium entitlement",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				if err := app.entitlements.SetPremium(ctx, args[0] == "on"); err != nil {
					return err
				}
				premium, err := app.entitlements.IsPremium(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), map[string]bool{"premium": premium})
			})
		},
	}
}
