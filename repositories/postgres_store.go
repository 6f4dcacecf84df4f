package repositories

import (
	"context"
	"database/sql"
	"fmt"
)

type postgresRepositories struct {
	exec SQLExecutor
}

func (r postgresRepositories) Tournaments() TournamentRepository {
	return NewPostgresTournamentRepository(r.exec)
}

func (r postgresRepositories) PhaseTeams() PhaseTeamRepository {
	return NewPostgresPhaseTeamRepository(r.exec)
}

func (r postgresRepositories) Registrations() RegistrationRepository {
	return NewPostgresRegistrationRepository(r.exec)
}

func (r postgresRepositories) Matches() MatchRepository {
	return NewPostgresMatchRepository(r.exec)
}

func (r postgresRepositories) Standings() StandingRepository {
	return NewPostgresStandingRepository(r.exec)
}

func (r postgresRepositories) PhaseStandings() PhaseStandingRepository {
	return NewPostgresPhaseStandingRepository(r.exec)
}

// PostgresStore is the Store backed by a PostgreSQL database.
type PostgresStore struct {
	postgresRepositories
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{postgresRepositories: postgresRepositories{exec: db}, db: db}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
		} else if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()

	err = fn(ctx, postgresRepositories{exec: tx})
	return err
}
