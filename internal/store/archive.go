package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/supabase-community/supabase-go"
)

// Uploader writes an object to blob storage.
type Uploader interface {
	Upload(key, contentType string, data []byte) error
}

// SupabaseBucket uploads objects to one Supabase storage bucket.
type SupabaseBucket struct {
	client *supabase.Client
	bucket string
}

func NewSupabaseBucket(url, serviceRoleKey, bucket string) (*SupabaseBucket, error) {
	if url == "" || serviceRoleKey == "" {
		return nil, errors.New("store: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(url, serviceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: supabase client: %w", err)
	}
	return &SupabaseBucket{client: client, bucket: bucket}, nil
}

func (s *SupabaseBucket) Upload(key, contentType string, data []byte) error {
	// supabase-go sniffs the content type from the bytes.
	_ = contentType
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store: upload %s: %w", key, err)
	}
	return nil
}

// Archive copies every saved session as JSON to an Uploader. Upload
// failures are logged; the wrapped store stays authoritative.
type Archive struct {
	Store
	up Uploader
}

func NewArchive(s Store, up Uploader) *Archive {
	return &Archive{Store: s, up: up}
}

func (a *Archive) SaveSession(ctx context.Context, rec Record) error {
	if err := a.Store.SaveSession(ctx, rec); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		log.Printf("[%s] archive encode: %v", rec.SessionID, err)
		return nil
	}
	if err := a.up.Upload(ArchiveKey(rec.SessionID), "application/json", data); err != nil {
		log.Printf("[%s] archive upload: %v", rec.SessionID, err)
	}
	return nil
}

// ArchiveKey is the object key a session is archived under.
func ArchiveKey(sessionID string) string {
	return "sessions/" + sessionID + ".json"
}
