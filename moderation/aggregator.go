package moderation

import (
	"context"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agentivy/sentinel/internal/linkutil"
	"github.com/agentivy/sentinel/scan"
	"github.com/agentivy/sentinel/store"
	"github.com/agentivy/sentinel/urlcheck"
)

// LinkChecker is the URL reputation dependency of the aggregator.
type LinkChecker interface {
	Check(ctx context.Context, link string) ([]string, error)
}

// FileScanner is the scan gateway dependency of the aggregator.
type FileScanner interface {
	Submit(ctx context.Context, a scan.Artifact) (*scan.Job, error)
	Poll(ctx context.Context, job *scan.Job) (scan.Report, error)
}

// Scorer rates text spamminess in [0,1].
type Scorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

var _ LinkChecker = (*urlcheck.Checker)(nil)
var _ FileScanner = (*scan.Gateway)(nil)

// Aggregator runs the per-message checks concurrently and collects whatever
// signals could be produced. One check failing only costs its own signal;
// the others always run to completion.
type Aggregator struct {
	links        LinkChecker
	files        FileScanner
	spam         Scorer
	reportErrors bool
}

func NewAggregator(links LinkChecker, files FileScanner, spam Scorer, reportErrors bool) *Aggregator {
	return &Aggregator{
		links:        links,
		files:        files,
		spam:         spam,
		reportErrors: reportErrors,
	}
}

// Check fans out the link, file and spam checks for one message and joins
// all of them. The three goroutines share no state except the result,
// guarded by one mutex; no check can cancel or fail another.
func (a *Aggregator) Check(ctx context.Context, msg Message, policy store.GroupPolicy) Result {
	result := Result{Failures: make(map[CheckKind]error)}
	var mu sync.Mutex

	addSignal := func(sig Signal) {
		mu.Lock()
		defer mu.Unlock()
		result.Signals = append(result.Signals, sig)
	}
	addFailure := func(kind CheckKind, err error) {
		mu.Lock()
		defer mu.Unlock()
		result.Failures[kind] = err
		a.logFailure(msg, kind, err)
	}

	var g errgroup.Group
	g.Go(func() error {
		if sig, err := a.checkLinks(ctx, msg, policy); err != nil {
			addFailure(CheckLink, err)
		} else if sig != nil {
			addSignal(*sig)
		}
		return nil
	})
	g.Go(func() error {
		if sig, err := a.checkFile(ctx, msg, policy); err != nil {
			addFailure(CheckFile, err)
		} else if sig != nil {
			addSignal(*sig)
		}
		return nil
	})
	g.Go(func() error {
		if sig, err := a.checkSpam(ctx, msg); err != nil {
			addFailure(CheckSpam, err)
		} else if sig != nil {
			addSignal(*sig)
		}
		return nil
	})
	_ = g.Wait() // the checks never return errors, they record them

	return result
}

// checkLinks looks up every URL in the message that is not on the group's
// skip list, stopping at the first one with a non-empty threat set. A nil
// signal with nil error means there was nothing to check.
func (a *Aggregator) checkLinks(ctx context.Context, msg Message, policy store.GroupPolicy) (*Signal, error) {
	links := linkutil.Extract(msg.Text)
	checked := 0
	for _, link := range links {
		if linkutil.MatchesPrefix(link, policy.SkipURLPrefixes) {
			continue
		}
		checked++
		threats, err := a.links.Check(ctx, link)
		if err != nil {
			return nil, err
		}
		if len(threats) > 0 {
			sig := LinkSignal(link, threats)
			return &sig, nil
		}
	}
	if checked == 0 {
		return nil, nil
	}
	sig := LinkSignal("", nil) // clean: checked but nothing matched
	return &sig, nil
}

// checkFile submits the attachment for scanning and polls for its verdict.
// A nil signal with nil error means no attachment, or a skip-listed
// extension.
func (a *Aggregator) checkFile(ctx context.Context, msg Message, policy store.GroupPolicy) (*Signal, error) {
	if msg.Attachment == nil {
		return nil, nil
	}
	artifact := scan.Artifact{
		Kind:     scan.ArtifactFile,
		Filename: msg.Attachment.Filename,
		Content:  msg.Attachment.Content,
	}
	for _, skip := range policy.SkipFileExts {
		if artifact.Ext() == normalizeExt(skip) {
			return nil, nil
		}
	}

	job, err := a.files.Submit(ctx, artifact)
	if err != nil {
		return nil, err
	}
	report, err := a.files.Poll(ctx, job)
	if err != nil {
		return nil, err
	}
	sig := FileSignal(report.Verdict)
	return &sig, nil
}

// checkSpam scores the message text. Messages with no text (bare file, no
// caption) have nothing to classify.
func (a *Aggregator) checkSpam(ctx context.Context, msg Message) (*Signal, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return nil, nil
	}
	score, err := a.spam.Score(ctx, msg.Text)
	if err != nil {
		return nil, err
	}
	sig := SpamSignal(score)
	return &sig, nil
}

// logFailure records a degraded check. User-actionable failures are the
// sender's to fix and stay out of the error reporter.
func (a *Aggregator) logFailure(msg Message, kind CheckKind, err error) {
	log.WithError(err).WithFields(log.Fields{
		"group_id": msg.GroupID,
		"check":    kind,
	}).Warn("Check degraded to no signal")
	if a.reportErrors && !scan.UserActionable(err) {
		sentry.CaptureException(err)
	}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
