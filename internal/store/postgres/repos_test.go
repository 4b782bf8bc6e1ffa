package postgres_test

import (
	"testing"

	"github.com/jensholdgaard/sealedbid/internal/store/storetest"
)

func TestRepositories(t *testing.T) {
	storetest.Run(t, newTestStore)
}
