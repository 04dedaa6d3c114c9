package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/etnz/apt-publish/catalog"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Publish builds the publication of snap next to output and promotes it:
// output becomes a symbolic link to the new tree and the tree it pointed
// to before is removed. On failure nothing is promoted and the partial tree
// is removed.
//
// Publications are stored as hidden siblings of output, ".<name>-<id>".
// Concurrent publishes to the same output are safe: the last one to promote wins.
func (p *Publisher) Publish(ctx context.Context, snap *catalog.Snapshot, output string) (pub *Publication, err error) {
	output = filepath.Clean(output)
	if fi, err := os.Lstat(output); err == nil && fi.Mode()&fs.ModeSymlink == 0 {
		return nil, fmt.Errorf("%s exists and is not a symbolic link", output)
	}

	id := uuid.NewString()
	ctx, span := tracer.Start(ctx, "publish.Publish", trace.WithAttributes(
		attribute.String("publish.id", id),
		attribute.String("publish.output", output),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	parent, base := filepath.Split(output)
	if parent == "" {
		parent = "."
	}
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, err
	}
	final := filepath.Join(parent, "."+base+"-"+id)
	scratch := final + ".tmp"

	pub, err = p.build(ctx, snap, scratch, id)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if rerr := os.RemoveAll(scratch); rerr != nil {
			p.log.Error("removing scratch directory", "path", scratch, "error", rerr)
		}
		return nil, err
	}
	if err := os.Rename(scratch, final); err != nil {
		os.RemoveAll(scratch)
		return nil, err
	}
	pub.Path = final

	replaced, err := swapLink(output, filepath.Base(final))
	if err != nil {
		os.RemoveAll(final)
		return nil, fmt.Errorf("promoting %s: %w", output, err)
	}
	if replaced != "" && replaced != filepath.Base(final) {
		old := replaced
		if !filepath.IsAbs(old) {
			old = filepath.Join(parent, old)
		}
		// only trees created by a publish are removed
		if strings.HasPrefix(filepath.Base(old), "."+base+"-") {
			if err := os.RemoveAll(old); err != nil {
				p.log.Warn("removing previous publication", "path", old, "error", err)
			}
		}
	}

	p.log.Info("publication promoted", "publication", id, "output", output, "path", final)
	p.listen(EventPublicationPromoted{ID: id, Path: final, Output: output, Replaced: replaced})
	return pub, nil
}

// swapLink atomically points the symbolic link output to target, and
// returns the previous target.
func swapLink(output, target string) (string, error) {
	previous, err := os.Readlink(output)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	dir, base := filepath.Split(output)
	tmp := filepath.Join(dir, "."+base+".link-"+uuid.NewString())
	if err := os.Symlink(target, tmp); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, output); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return previous, nil
}
