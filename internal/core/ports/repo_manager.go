package ports

import "github.com/arkade-os/aspd/internal/core/domain"

type RepoManager interface {
	Rounds() domain.RoundRepository
	Seed() domain.SeedRepository
	Close()
}
