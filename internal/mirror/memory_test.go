package mirror_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"keyregistry/internal/mirror"
)

type InMemorySuite struct {
	backendSuite
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.reset(mirror.NewInMemory())
}
