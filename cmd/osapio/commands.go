package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"osapio-go/internal/library"
	"osapio-go/internal/lifecycle"
	"osapio-go/pkg/apperr"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"register": runRegister,
	"login":    runLogin,
	"logout":   runLogout,
	"whoami":   runWhoami,
	"upload":   runUpload,
	"list":     runList,
	"show":     runShow,
	"delete":   runDelete,
	"download": runDownload,
	"search":   runSearch,
}

// parse 允许位置参数与 flag 混排，返回位置参数。
func parse(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func exactlyOne(name string, positional []string) (string, error) {
	if len(positional) != 1 {
		return "", fmt.Errorf("%s 需要且只需要一个参数", name)
	}
	return positional[0], nil
}

// readPassword 优先读取 OSAPIO_PASSWORD，否则从标准输入读一行。
func readPassword() (string, error) {
	if p := os.Getenv("OSAPIO_PASSWORD"); p != "" {
		return p, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", apperr.Validation("Password is required")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runRegister(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	name := fs.String("name", "", "显示名")
	positional, err := parse(fs, args)
	if err != nil {
		return err
	}
	email, err := exactlyOne("register", positional)
	if err != nil {
		return err
	}
	password, err := readPassword()
	if err != nil {
		return err
	}
	u, err := a.identity.SignUp(ctx, email, password, *name)
	if err != nil {
		return err
	}
	fmt.Printf("Signed up and signed in as %s\n", u.Email)
	return nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	positional, err := parse(flag.NewFlagSet("login", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	email, err := exactlyOne("login", positional)
	if err != nil {
		return err
	}
	password, err := readPassword()
	if err != nil {
		return err
	}
	u, err := a.identity.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s\n", u.Email)
	return nil
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.identity.SignOut(ctx); err != nil {
		return err
	}
	fmt.Println("Signed out")
	return nil
}

func runWhoami(_ context.Context, a *app, _ []string) error {
	u := a.identity.CurrentUser()
	if u == nil {
		return apperr.Auth("Please sign in first", nil)
	}
	if u.DisplayName != "" {
		fmt.Printf("%s <%s> (id %d)\n", u.DisplayName, u.Email, u.ID)
	} else {
		fmt.Printf("%s (id %d)\n", u.Email, u.ID)
	}
	return nil
}

func runUpload(ctx context.Context, a *app, args []string) error {
	positional, err := parse(flag.NewFlagSet("upload", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	path, err := exactlyOne("upload", positional)
	if err != nil {
		return err
	}
	f, err := lifecycle.OpenPath(path)
	if err != nil {
		return err
	}

	ctrl := lifecycle.New(a.sess, lifecycle.WithUploadTimeout(a.cfg.UploadTimeout))
	done := make(chan struct{})
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for {
			select {
			case ev := <-ctrl.Events():
				printEvent(ev)
			case <-done:
				for {
					select {
					case ev := <-ctrl.Events():
						printEvent(ev)
					default:
						return
					}
				}
			}
		}
	}()

	if err := ctrl.SelectFile(f); err != nil {
		close(done)
		<-printed
		return err
	}
	err = ctrl.StartUpload(ctx)
	close(done)
	<-printed
	if err != nil {
		return err
	}

	snap := ctrl.Snapshot()
	fmt.Printf("\nRecord: %s\n", snap.RecordID)
	if snap.Degraded {
		fmt.Println("AI analysis was unavailable; showing file details instead.")
	}
	fmt.Println()
	fmt.Println(snap.Result)
	return nil
}

func printEvent(ev lifecycle.Event) {
	switch {
	case ev.Phase == lifecycle.PhaseUploading && ev.Message == "":
		fmt.Fprintf(os.Stderr, "\rUploading... %3d%%", ev.Progress)
	case ev.Message != "":
		if ev.Phase == lifecycle.PhaseUploaded || ev.Phase == lifecycle.PhaseAnalyzing {
			fmt.Fprintln(os.Stderr)
		}
		fmt.Fprintln(os.Stderr, ev.Message)
	case ev.Phase == lifecycle.PhaseAnalyzing:
		fmt.Fprintln(os.Stderr, "\nAnalyzing with AI...")
	}
}

func runList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	query := fs.String("q", "", "按文件名过滤")
	status := fs.String("status", library.StatusAll, "按状态过滤: all|pending|processing|completed|failed")
	if _, err := parse(fs, args); err != nil {
		return err
	}

	lib := library.New(a.sess)
	if err := lib.Refresh(ctx); err != nil {
		return errors.New(lib.Message())
	}
	if a.identity.CurrentUser() == nil {
		return apperr.Auth("Please sign in first", nil)
	}
	records := lib.Filter(*query, *status)
	if len(records) == 0 {
		fmt.Println("No uploads found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tSIZE\tSTATUS\tUPLOADED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.FileName, library.FormatFileSize(r.FileSize),
			library.StatusLabel(r.Status), r.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runShow(ctx context.Context, a *app, args []string) error {
	positional, err := parse(flag.NewFlagSet("show", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	id, err := exactlyOne("show", positional)
	if err != nil {
		return err
	}
	lib := library.New(a.sess)
	r, err := lib.ViewDetails(ctx, id)
	if err != nil {
		return errors.New(lib.Message())
	}

	fmt.Printf("File:     %s\n", r.FileName)
	fmt.Printf("Size:     %s\n", library.FormatFileSize(r.FileSize))
	fmt.Printf("Status:   %s\n", library.StatusLabel(r.Status))
	fmt.Printf("Uploaded: %s\n", r.CreatedAt.Local().Format(time.DateTime))
	if r.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", r.ErrorMessage)
	}
	if r.AnalysisResult != "" {
		fmt.Printf("\n%s\n", r.AnalysisResult)
	}
	return nil
}

func runDelete(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "跳过确认")
	positional, err := parse(fs, args)
	if err != nil {
		return err
	}
	id, err := exactlyOne("delete", positional)
	if err != nil {
		return err
	}

	lib := library.New(a.sess)
	if err := lib.Refresh(ctx); err != nil {
		return errors.New(lib.Message())
	}
	if err := lib.RequestDelete(id); err != nil {
		return apperr.Validation("Upload not found")
	}
	if !*yes && !confirm(fmt.Sprintf("Delete upload %s? This cannot be undone. [y/N] ", id)) {
		lib.CancelDelete()
		fmt.Println("Cancelled")
		return nil
	}
	if err := lib.ConfirmDelete(ctx); err != nil {
		return errors.New(lib.Message())
	}
	fmt.Println(lib.Message())
	return nil
}

func confirm(prompt string) bool {
	fmt.Fprint(os.Stderr, prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func runDownload(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	out := fs.String("o", ".", "保存目录")
	positional, err := parse(fs, args)
	if err != nil {
		return err
	}
	id, err := exactlyOne("download", positional)
	if err != nil {
		return err
	}

	save := library.SaveTo(*out)
	return library.New(a.sess).Download(ctx, id, os.TempDir(), func(tmpPath, fileName string) error {
		if err := save(tmpPath, fileName); err != nil {
			return err
		}
		fmt.Printf("Saved %s to %s\n", fileName, *out)
		return nil
	})
}

func runSearch(ctx context.Context, a *app, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return apperr.Validation("Search query is required")
	}
	hits, err := a.gateway.Search(ctx, query)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No matches")
		return nil
	}
	for _, h := range hits {
		fmt.Printf("%s  %s  (%.2f)\n    %s\n", h.ID, h.FileName, h.Score, h.Snippet)
	}
	return nil
}
