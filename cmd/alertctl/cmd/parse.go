package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ismaiel54/alert-trade-router/internal/index"
	"github.com/ismaiel54/alert-trade-router/internal/instruction"
	"github.com/ismaiel54/alert-trade-router/internal/notify"
	"github.com/ismaiel54/alert-trade-router/internal/parser"
	"github.com/ismaiel54/alert-trade-router/internal/router"
	"github.com/spf13/cobra"
)

var parseCmd = &cobra.Command{
	Use:   "parse [text]",
	Short: "Parse alert text offline and print the instruction",
	Long: `Parse runs alert text through the parser without touching a broker.

Text comes from the arguments (a literal \n starts a new line) or, with
no arguments, from stdin. On stdin, a line holding only --- separates
messages, and the index context carries from one message to the next.

Examples:
  alertctl parse 'FTSE INDEX\n= SHORT 50%\nENTRY = MARKET\nSTOP=30'
  alertctl parse --context DAX 'take profit on 2 now'
  alertctl parse < session.txt`,
	RunE: runParse,
}

var (
	parseEdited      bool
	parseContext     string
	parseIndexTable  string
	parseKeywordPath string
	parseSize        float64
)

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().BoolVar(&parseEdited, "edited", false, "treat the message as an edit")
	parseCmd.Flags().StringVar(&parseContext, "context", "", "index key to start from")
	parseCmd.Flags().StringVar(&parseIndexTable, "index-table", "", "index table YAML/JSON (default built-in)")
	parseCmd.Flags().StringVar(&parseKeywordPath, "keywords", "", "keyword table YAML/JSON (default built-in)")
	parseCmd.Flags().Float64Var(&parseSize, "size", 25, "volume for a 100% alert")
}

func runParse(cmd *cobra.Command, args []string) error {
	mapper := index.Default()
	if parseIndexTable != "" {
		m, err := index.Load(parseIndexTable)
		if err != nil {
			return err
		}
		mapper = m
	}
	kw := parser.DefaultKeywords()
	if parseKeywordPath != "" {
		k, err := parser.LoadKeywords(parseKeywordPath)
		if err != nil {
			return err
		}
		kw = k
	}

	p, err := parser.New(mapper, kw, parseSize, nil)
	if err != nil {
		return err
	}
	if parseContext != "" {
		if err := p.SetContext(strings.ToUpper(parseContext)); err != nil {
			return err
		}
	}

	var messages []string
	if len(args) > 0 {
		messages = []string{strings.ReplaceAll(strings.Join(args, " "), `\n`, "\n")}
	} else {
		messages, err = splitMessages(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	for _, text := range messages {
		in, err := p.Parse(text, parseEdited)
		if err != nil {
			in = &instruction.Instruction{}
			in.Set(router.FieldError, err.Error())
			var pe *parser.ParseError
			if errors.As(err, &pe) {
				in.Set(router.FieldErrorKind, pe.Kind.String())
			}
		}
		b, err := notify.Format(in)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(b))
	}
	return nil
}

// splitMessages reads messages separated by lines holding only ---.
func splitMessages(r io.Reader) ([]string, error) {
	var (
		out     []string
		current []string
	)
	flush := func() {
		if text := strings.TrimSpace(strings.Join(current, "\n")); text != "" {
			out = append(out, text)
		}
		current = current[:0]
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "---" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return out, sc.Err()
}
