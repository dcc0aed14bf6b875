package cmd

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"video-restore/config"
	"video-restore/constant"
	"video-restore/repository"
)

func migrate(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update the jobs table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Store.Driver != constant.DriverPostgres {
				return errors.New("migrate requires store.driver=postgres")
			}
			db, err := config.NewPostgresDB(cfg.Store.PostgresDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			repo, err := repository.NewRepo(db)
			if err != nil {
				return err
			}
			if err := repo.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("jobs table migrated")
			return nil
		},
	}
}
