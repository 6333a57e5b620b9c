// Package storage mirrors harvested artifacts into Firestore.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pauljones0/comment-harvester/internal/models"
)

const (
	videosCollection   = "videos"
	commentsCollection = "comments"
)

// Client writes each artifact as a video document keyed by video id with
// its comments in a subcollection keyed by comment id.
type Client struct {
	client *firestore.Client
}

func New(ctx context.Context, projectID string) (*Client, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SaveArtifact upserts the video document and every comment. Comment ids
// are stable, so saving the same video twice overwrites rather than
// duplicates. A partial artifact never replaces a larger complete one.
func (c *Client) SaveArtifact(ctx context.Context, artifact *models.OutputArtifact) error {
	if artifact.Meta.Partial {
		existing, err := c.GetArtifactMeta(ctx, artifact.Meta.VideoID)
		if err != nil {
			return err
		}
		if keepExisting(existing, &artifact.Meta) {
			slog.Info("Keeping complete mirrored artifact over partial harvest",
				"video", artifact.Meta.VideoID,
				"stored", existing.TotalCount,
				"harvested", artifact.Meta.TotalCount,
			)
			return nil
		}
	}

	videoRef := c.client.Collection(videosCollection).Doc(artifact.Meta.VideoID)
	if _, err := videoRef.Set(ctx, artifact.Meta); err != nil {
		return fmt.Errorf("failed to save video %s: %w", artifact.Meta.VideoID, err)
	}

	if len(artifact.Comments) == 0 {
		return nil
	}

	bulkWriter := c.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(artifact.Comments))
	comments := videoRef.Collection(commentsCollection)
	for _, comment := range artifact.Comments {
		job, err := bulkWriter.Set(comments.Doc(commentDocID(comment.ID)), comment)
		if err != nil {
			slog.Warn("Failed to queue comment write", "video", artifact.Meta.VideoID, "comment", comment.ID, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	bulkWriter.End()

	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to save %d of %d comments for %s: %w", len(errs), len(artifact.Comments), artifact.Meta.VideoID, errs[0])
	}

	slog.Debug("Mirrored artifact to Firestore", "video", artifact.Meta.VideoID, "comments", len(jobs))
	return nil
}

// GetArtifactMeta returns the stored metadata for a video, or nil when it
// has never been mirrored.
func (c *Client) GetArtifactMeta(ctx context.Context, videoID string) (*models.ArtifactMeta, error) {
	doc, err := c.client.Collection(videosCollection).Doc(videoID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get video %s: %w", videoID, err)
	}
	if !doc.Exists() {
		return nil, nil
	}

	var meta models.ArtifactMeta
	if err := doc.DataTo(&meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video data: %w", err)
	}
	return &meta, nil
}

// TrimOldVideos deletes the least recently extracted videos, and their
// comments, beyond maxVideos.
func (c *Client) TrimOldVideos(ctx context.Context, maxVideos int) error {
	collectionRef := c.client.Collection(videosCollection)

	countSnapshot, err := collectionRef.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get video count for trimming: %w", err)
	}
	countValue, ok := countSnapshot["all"]
	if !ok {
		return fmt.Errorf("count aggregation result for trimming was invalid: 'all' key missing")
	}
	currentCount, err := countFromAggregation(countValue)
	if err != nil {
		return err
	}
	if currentCount <= int64(maxVideos) {
		return nil
	}

	numToDelete := int(currentCount) - maxVideos
	slog.Info("Trimming mirrored videos", "current", currentCount, "max", maxVideos, "deleting", numToDelete)

	iter := collectionRef.
		OrderBy("extractedAt", firestore.Asc).
		Limit(numToDelete).
		Documents(ctx)
	defer iter.Stop()

	bulkWriter := c.client.BulkWriter(ctx)
	defer bulkWriter.End()

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to iterate videos for trimming: %w", err)
		}

		refs, err := doc.Ref.Collection(commentsCollection).DocumentRefs(ctx).GetAll()
		if err != nil {
			slog.Warn("Failed to list comments for trimming", "video", doc.Ref.ID, "error", err)
		}
		for _, ref := range refs {
			if _, err := bulkWriter.Delete(ref); err != nil {
				slog.Warn("Failed to queue comment delete", "video", doc.Ref.ID, "error", err)
			}
		}
		if _, err := bulkWriter.Delete(doc.Ref); err != nil {
			slog.Warn("Failed to queue video delete", "video", doc.Ref.ID, "error", err)
		}
	}
	bulkWriter.Flush()
	return nil
}

func keepExisting(existing, incoming *models.ArtifactMeta) bool {
	return existing != nil && !existing.Partial && incoming.Partial && existing.TotalCount > incoming.TotalCount
}

func countFromAggregation(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case *firestorepb.Value:
		return val.GetIntegerValue(), nil
	default:
		return 0, fmt.Errorf("count aggregation result has unexpected type %T", v)
	}
}

// commentDocID maps a comment id onto a legal Firestore document id.
func commentDocID(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	if id == "." || id == ".." || (strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__")) {
		id = "c" + id
	}
	return id
}
