package composer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kiln.build/core/composer/models"
	"kiln.build/core/composer/queue"
	"kiln.build/core/fedmsg"
)

var (
	ErrUnknownRelease = errors.New("unknown release")
	ErrQueueFull      = errors.New("job queue is full")
)

// classify maps a bus topic and body onto a configured release
// identifier. ok is false when the event should be skipped; skips
// are not errors.
func (k *Kiln) classify(topic string, body fedmsg.Body) (string, bool) {
	l := k.l.With("topic", topic)

	switch {
	case strings.Contains(topic, "rawhide"):
		l.Info("new rawhide compose ready", "arch", body.Arch)
		return "rawhide", true

	case strings.Contains(topic, "branched"):
		if body.Log != "done" {
			l.Warn("branched compose not done, skipping", "log", body.Log)
			return "", false
		}
		l.Info("new branched compose ready", "branch", body.Branch, "arch", body.Arch)
		return body.Branch, true

	case strings.Contains(topic, "updates.fedora"):
		l.Info("new updates compose ready", "release", body.Release, "repo", body.Repo)
		return fmt.Sprintf("f%s-%s", body.Release, body.Repo), true

	default:
		l.Warn("unknown topic, skipping")
		return "", false
	}
}

// Dispatch is the consumer's process function: classify the event,
// resolve the release, build a run context and hand the pipeline to
// the queue. It never blocks on compose work.
func (k *Kiln) Dispatch(ctx context.Context, _ fedmsg.Source, msg fedmsg.Message) error {
	var body fedmsg.Body
	if len(msg.Body) > 0 {
		if err := json.Unmarshal(msg.Body, &body); err != nil {
			return fmt.Errorf("deserializing event body: %w", err)
		}
	}

	name, ok := k.classify(msg.Topic, body)
	if !ok {
		return nil
	}

	spec, ok := k.releases[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRelease, name)
	}
	if body.Arch != "" {
		spec.Arch = body.Arch
	}

	// scratch allocation happens here, synchronously, so a full
	// disk surfaces before the run is scheduled
	rc, err := models.NewRunContext(spec, msg.Topic)
	if err != nil {
		return err
	}

	if err := k.db.InsertRun(rc, k.n); err != nil {
		rc.Cleanup()
		return fmt.Errorf("recording run: %w", err)
	}

	enqueued := k.jq.Enqueue(queue.Job{
		Key: rc.Name,
		Run: func() error {
			return k.pipeline.Run(ctx, rc)
		},
		OnFail: func(jobError error) {
			k.l.Error("pipeline run failed", "uid", rc.UID, "error", jobError)
		},
	})
	if !enqueued {
		rc.Cleanup()
		if err := k.db.MarkRunFailed(rc.UID, rc.Name, ErrQueueFull.Error(), -1, k.n); err != nil {
			k.l.Error("failed to mark overflowed run", "uid", rc.UID, "err", err)
		}
		return ErrQueueFull
	}

	k.l.Info("compose enqueued", "release", rc.Name, "uid", rc.UID, "depth", k.jq.Depth())
	return nil
}
