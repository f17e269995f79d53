package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/riskscan?sslmode=disable", "pgx5://u:p@localhost:5432/riskscan?sslmode=disable"},
		{"postgresql://localhost/riskscan", "pgx5://localhost/riskscan"},
		{"pgx5://localhost/riskscan", "pgx5://localhost/riskscan"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, migrationURL(tt.in))
		})
	}
}
