package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"chaptertrack/internal/apperr"
)

type toastKind int

const (
	toastSuccess toastKind = iota
	toastInfo
	toastWarn
	toastError
)

var toastColors = map[toastKind]lipgloss.Color{
	toastSuccess: lipgloss.Color("42"),
	toastInfo:    lipgloss.Color("39"),
	toastWarn:    lipgloss.Color("214"),
	toastError:   lipgloss.Color("196"),
}

// toast renders a short boxed notice: a bold title and an optional
// detail line.
func toast(kind toastKind, title, detail string) string {
	color := toastColors[kind]
	head := lipgloss.NewStyle().Bold(true).Foreground(color).Render(title)
	body := head
	if detail != "" {
		body = lipgloss.JoinVertical(lipgloss.Left, head, lipgloss.NewStyle().Faint(true).Render(detail))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 1).
		Render(body)
}

func printToast(w io.Writer, kind toastKind, title, detail string) {
	fmt.Fprintln(w, toast(kind, title, detail))
}

var errorTitles = map[apperr.Code]string{
	apperr.CodeStorage:          "Local storage error",
	apperr.CodeUnauthenticated:  "Not signed in",
	apperr.CodeNetwork:          "Cloud unavailable",
	apperr.CodePermissionDenied: "Notifications blocked",
	apperr.CodeValidation:       "Invalid input",
	apperr.CodeSyncInProgress:   "Sync in progress",
	apperr.CodeNotFound:         "Not found",
}

func renderError(err error) string {
	var ae *apperr.AppError
	if !errors.As(err, &ae) {
		return toast(toastError, "Error", err.Error())
	}

	title := errorTitles[ae.Code]
	detail := ae.Message
	if ae.Err != nil {
		detail += ": " + ae.Err.Error()
	}
	switch {
	case ae.Code == apperr.CodeUnauthenticated:
		detail += "\nrun `chaptertrack auth login` first"
	case apperr.Retryable(err):
		detail += "\nnothing was changed; try again"
	}
	return toast(toastError, title, detail)
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// askPermission stands in for the OS permission dialog.
func askPermission(ctx context.Context) (bool, error) {
	if !interactive() {
		return false, nil
	}
	allow := true
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Allow chaptertrack to send release reminders?").
			Affirmative("Allow").
			Negative("Don't allow").
			Value(&allow),
	)).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return allow, err
}

func confirm(ctx context.Context, title, description string) (bool, error) {
	if !interactive() {
		return false, apperr.Validation("confirmation needs a terminal; pass --yes")
	}
	ok := false
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title(title).Description(description).Value(&ok),
	)).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func readPassword(prompt string) (string, error) {
	if !interactive() {
		return "", apperr.Validation("password required; pass --password")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
