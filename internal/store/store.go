// Package store persists agent settings across restarts.
package store

import "context"

// Settings keys owned by the control surface. The pipeline itself never
// writes them.
const (
	KeyAuthToken         = "auth_token"
	KeySelectedProjectID = "selected_project_id"
)

// Repository defines the interface for persisting agent settings.
type Repository interface {
	// Get retrieves a setting value; ("", nil) when the key is unset.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a setting value. An empty value clears the key.
	Set(ctx context.Context, key, value string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
