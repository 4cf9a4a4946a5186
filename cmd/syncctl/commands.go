package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/repository"
	"github.com/noah-isme/candidate-sync/internal/service"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

type documentReader interface {
	Get(ctx context.Context, collection, id string) (*repository.Document, error)
}

type documentWriter interface {
	documentReader
	Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error
}

type configSeeder interface {
	SeedDefaults(ctx context.Context, sess *service.Session) error
}

type tokenIssuer interface {
	IssueToken(req service.TokenRequest) (string, time.Time, error)
}

func runStatus(ctx context.Context, store documentReader, w io.Writer) error {
	doc, err := store.Get(ctx, repository.CollectionSystem, repository.DocAppStatus)
	if err != nil {
		if appErrors.Classify(err) == appErrors.KindNotFound {
			_, _ = fmt.Fprintln(w, "no status recorded")
			return nil
		}
		return fmt.Errorf("read status: %w", err)
	}
	var rec models.StatusRecord
	if err := doc.Decode(&rec); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, string(out))
	if rec.Locked && rec.UntilMs > 0 {
		until := time.UnixMilli(rec.UntilMs)
		_, _ = fmt.Fprintf(w, "locked until %s (%s)\n", until.Format(time.RFC3339), time.Until(until).Round(time.Second))
	}
	return nil
}

func runUnlock(ctx context.Context, store documentWriter, w io.Writer) error {
	if err := service.ClearStatus(ctx, store, service.SystemActor); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	_, _ = fmt.Fprintln(w, "status cleared")
	return nil
}

func runSeed(ctx context.Context, seeder configSeeder, store documentReader, w io.Writer) error {
	_, err := store.Get(ctx, repository.CollectionConfig, repository.DocAppConfig)
	existed := err == nil
	if err != nil && appErrors.Classify(err) != appErrors.KindNotFound {
		return fmt.Errorf("read config: %w", err)
	}
	if err := seeder.SeedDefaults(ctx, nil); err != nil {
		return fmt.Errorf("seed config: %w", err)
	}
	if existed {
		_, _ = fmt.Fprintln(w, "configuration already present")
		return nil
	}
	_, _ = fmt.Fprintln(w, "default configuration written")
	return nil
}

func runToken(auth tokenIssuer, req service.TokenRequest, w io.Writer) error {
	token, expiresAt, err := auth.IssueToken(req)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, token)
	_, _ = fmt.Fprintf(w, "# expires %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
