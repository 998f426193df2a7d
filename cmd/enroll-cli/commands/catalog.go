package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"enrollassist-backend/internal/components/telemetry"
	"enrollassist-backend/internal/match"
	"enrollassist-backend/internal/scrapers/portal"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var catalogFlags struct {
	baseURL    string
	prefix     string
	cookie     string
	category   string
	keywords   []string
	jsonOutput string
	bypass     bool
}

func init() {
	flags := catalogCmd.Flags()
	flags.StringVar(&catalogFlags.baseURL, "base-url", "", "Base url of the portal, ex. https://jwxt.example.edu.cn.")
	flags.StringVar(&catalogFlags.prefix, "prefix", portal.DefaultPathPrefix, "Path prefix of the portal application.")
	flags.StringVar(&catalogFlags.cookie, "cookie", os.Getenv("ENROLL_COOKIE"), "Session cookie, defaults to $ENROLL_COOKIE.")
	flags.StringVar(&catalogFlags.category, "category", "", "Category code (kklxdm), the portal default when empty.")
	flags.StringSliceVar(&catalogFlags.keywords, "keywords", nil, "Rank the catalog against these keywords.")
	flags.StringVar(&catalogFlags.jsonOutput, "json", "", "Also write the courses as JSON to this file.")
	flags.BoolVar(&catalogFlags.bypass, "bypass-cloudflare", true, "Use the anti-bot transport.")
	catalogCmd.MarkFlagRequired("base-url")
	rootCmd.AddCommand(catalogCmd)
}

var catalogCmd = &cobra.Command{
	Use:   "catalog --base-url <url> --cookie <cookie> [--category <code>] [--keywords <kw,...>]",
	Short: "Discovers the parameters of a session and prints the catalog of a category.",
	Run: func(cmd *cobra.Command, args []string) {
		if catalogFlags.cookie == "" {
			fail(fmt.Errorf("a session cookie is required"))
		}

		var tel telemetry.API = telemetry.NoopAPI{}
		if verbose {
			tel = telemetry.SlogAPI{}
		}

		options := portal.Options{Client: portal.DefaultClientOptions}
		options.Client.BypassCloudflare = catalogFlags.bypass
		p, err := portal.NewPortal(portal.Site{
			ID:         "cli",
			BaseURL:    catalogFlags.baseURL,
			PathPrefix: catalogFlags.prefix,
		}, options, tel)
		if err != nil {
			fail(err)
		}

		params, err := p.Resolver.Resolve(cmd.Context(), portal.ResolveRequest{
			Credential: catalogFlags.cookie,
			Category:   portal.CategoryParams{Code: catalogFlags.category},
		})
		if err != nil {
			fail(err)
		}
		printParams(params)

		result, err := p.Fetcher.Fetch(cmd.Context(), catalogFlags.cookie, params)
		if err != nil {
			fail(err)
		}
		if result.Err != nil {
			fmt.Fprintf(os.Stderr, "catalog is incomplete: %s\n", result.Err.Error())
		}

		keywords := splitKeywords(catalogFlags.keywords)
		if len(keywords) > 0 {
			printRanked(match.Rank(result.Courses, keywords, match.Threshold))
		} else {
			printCourses(result.Courses)
		}
		fmt.Printf("%d courses over %d pages\n", len(result.Courses), result.Pages)

		if catalogFlags.jsonOutput != "" {
			data, err := json.MarshalIndent(result.Courses, "", "  ")
			if err != nil {
				fail(err)
			}
			err = os.WriteFile(catalogFlags.jsonOutput, data, 0644)
			if err != nil {
				fail(err)
			}
		}
	},
}

func printParams(params portal.RequestParameters) {
	t := newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"category", fmt.Sprintf("%s %s", params.Category.Code, params.Category.Name)})
	t.AppendRow(table.Row{"xkkz_id", params.Category.WindowID})
	t.AppendRow(table.Row{"njdm_id", params.Category.CohortID})
	t.AppendRow(table.Row{"zyh_id", params.Category.MajorID})
	t.AppendRow(table.Row{"rwlx", params.TaskType})
	t.AppendRow(table.Row{"fallback", params.UsedFallback})
	t.AppendRow(table.Row{"tokens", len(params.Tokens)})
	t.Render()
}

func printCourses(courses []portal.CourseRecord) {
	t := newTable()
	t.AppendHeader(table.Row{"Course", "Class", "Title", "Instructor", "Schedule", "Seats"})
	for _, c := range courses {
		t.AppendRow(table.Row{
			c.CourseID, c.ClassID, c.Title, c.Instructor, c.Schedule,
			fmt.Sprintf("%d/%d", c.SeatsTaken, c.SeatsTotal),
		})
	}
	t.Render()
}

func printRanked(results []match.Result) {
	t := newTable()
	t.AppendHeader(table.Row{"Score", "Course", "Class", "Title", "Instructor"})
	for _, r := range results {
		t.AppendRow(table.Row{
			fmt.Sprintf("%.3f", r.Score),
			r.Course.CourseID, r.Course.ClassID, r.Course.Title, r.Course.Instructor,
		})
	}
	t.Render()
}
