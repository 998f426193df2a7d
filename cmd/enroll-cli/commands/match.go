package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"enrollassist-backend/internal/match"
	"enrollassist-backend/internal/scrapers/portal"

	"github.com/spf13/cobra"
)

var matchThreshold float64

func init() {
	matchCmd.Flags().Float64Var(&matchThreshold, "threshold", match.Threshold, "Lowest score that is printed.")
	rootCmd.AddCommand(matchCmd)
}

var matchCmd = &cobra.Command{
	Use:   "match <courses.json> <keyword> [keyword...]",
	Short: "Ranks a saved catalog (see catalog --json) against keywords.",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			fail(err)
		}
		var courses []portal.CourseRecord
		err = json.Unmarshal(data, &courses)
		if err != nil {
			fail(fmt.Errorf("decode %s: %w", args[0], err))
		}

		keywords := splitKeywords(args[1:])
		printRanked(match.Rank(courses, keywords, matchThreshold))

		best, ok := match.Best(courses, keywords)
		if !ok {
			fmt.Println("no course reaches the match threshold")
			return
		}
		fmt.Printf("best match: %s %s (%.3f)\n", best.Course.Key(), best.Course.Title, best.Score)
	},
}
