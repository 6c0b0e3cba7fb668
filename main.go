package main

import (
	"time"

	filectl "github.com/eric2788/screenrec/internal/controllers/file"
	recctl "github.com/eric2788/screenrec/internal/controllers/recording"
	"github.com/eric2788/screenrec/internal/modules/analyzer"
	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/internal/modules/mirror"
	"github.com/eric2788/screenrec/internal/modules/notify"
	"github.com/eric2788/screenrec/internal/modules/rest"
	"github.com/eric2788/screenrec/internal/modules/transcriber"
	"github.com/eric2788/screenrec/internal/services/file"
	"github.com/eric2788/screenrec/internal/services/path"
	"github.com/eric2788/screenrec/internal/services/postprocess"
	"github.com/eric2788/screenrec/internal/services/promote"
	"github.com/eric2788/screenrec/internal/services/recording"
	"github.com/eric2788/screenrec/internal/services/stream"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

func main() {

	if err := godotenv.Load(); err != nil {
		logrus.Debugf("no .env file loaded: %v", err)
	}

	app := fx.New(
		config.Module,
		rest.Module,
		transcriber.Module,
		analyzer.Module,
		notify.Module,
		mirror.Module,

		fx.Provide(stream.NewService),
		fx.Provide(promote.NewService),
		fx.Provide(recording.NewIndex),
		fx.Provide(recording.NewService),
		fx.Provide(path.NewService),
		fx.Provide(file.NewService),
		postprocess.Module,
		fx.Provide(func(pp *postprocess.Service, st *stream.Service) filectl.Busy {
			return filectl.AnyBusy(pp.IsProcessing, st.IsWriting)
		}),

		fx.Invoke(recctl.NewController),
		fx.Invoke(filectl.NewController),

		fx.StartTimeout(30*time.Second),
	)

	app.Run()
}
