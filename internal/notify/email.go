package notify

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"html"
	"sort"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/cleverdata/ferry-agent/internal/config"
	"github.com/cleverdata/ferry-agent/internal/models"
)

// EmailNotifier delivers notifications over SMTP. The rollover summary is
// sent as a short HTML body with the full issue log attached as CSV.
type EmailNotifier struct {
	cfg    config.EmailConfig
	logger zerolog.Logger
}

// NewEmail creates an EmailNotifier from validated email settings.
func NewEmail(cfg config.EmailConfig, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, logger: logger}
}

func (n *EmailNotifier) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.Username),
		mail.WithPassword(n.cfg.Password),
	}
	if n.cfg.EnableSSL {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	return mail.NewClient(n.cfg.SMTPServer, opts...)
}

func (n *EmailNotifier) newMessage(subject string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(n.cfg.SenderName, n.cfg.SenderEmail); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(n.cfg.Recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	m.Subject(subject)
	return m, nil
}

// NotifyRollover sends the daily issue summary.
func (n *EmailNotifier) NotifyRollover(ctx context.Context, summary models.RolloverSummary) error {
	subject := fmt.Sprintf("Ferry Agent | Daily Processing Summary - %s", summary.Day.Format("2006-01-02"))
	m, err := n.newMessage(subject)
	if err != nil {
		return err
	}
	m.SetBodyString(mail.TypeTextHTML, FormatRolloverBody(summary))

	csvName := fmt.Sprintf("issues_%s.csv", summary.Day.Format("20060102"))
	if err := m.AttachReader(csvName, bytes.NewReader(IssueCSV(summary.Issues))); err != nil {
		return fmt.Errorf("attaching issue log: %w", err)
	}

	client, err := n.client()
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("sending rollover email: %w", err)
	}
	n.logger.Info().Time("day", summary.Day).Int("issues", summary.FilesWithIssue).
		Msg("rollover summary email sent")
	return nil
}

// NotifyError sends an error alert.
func (n *EmailNotifier) NotifyError(ctx context.Context, source string, cause error) error {
	m, err := n.newMessage(fmt.Sprintf("Ferry Agent | Error in %s", source))
	if err != nil {
		return err
	}
	body := fmt.Sprintf("<p>Unexpected error reported by the agent.</p><p><b>Source:</b> %s<br/><b>Error:</b> %s</p>",
		html.EscapeString(source), html.EscapeString(cause.Error()))
	m.SetBodyString(mail.TypeTextHTML, body)

	client, err := n.client()
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("sending error email: %w", err)
	}
	return nil
}

// FormatRolloverBody renders the HTML body for a rollover summary.
func FormatRolloverBody(summary models.RolloverSummary) string {
	return fmt.Sprintf(
		"<p>Daily file processing summary for <b>%s</b>.</p>"+
			"<p>Total files processed: <b>%d</b><br/>"+
			"Files with issues: <b>%d</b></p>"+
			"<p>The complete issue log is attached as CSV.</p>",
		summary.Day.Format("2006-01-02"), summary.TotalProcessed, summary.FilesWithIssue)
}

// IssueCSV renders the issue log as CSV, ordered by timestamp.
func IssueCSV(issues []models.IssueRecord) []byte {
	ordered := append([]models.IssueRecord(nil), issues...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"Timestamp", "Name", "Path", "FileName", "Details"})
	for _, rec := range ordered {
		_ = w.Write([]string{
			rec.Timestamp.Format("02-Jan-2006 15:04:05"),
			rec.FolderName,
			rec.FolderPath,
			rec.FileName,
			rec.Details,
		})
	}
	w.Flush()
	return buf.Bytes()
}
