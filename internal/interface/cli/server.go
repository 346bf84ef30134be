package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/code-archaeologist/internal/interface/httpapi"
)

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config
	cont := appCtx.Container
	log := cont.Logger()

	port := cfg.Server.Port
	if cmd.IsSet("port") {
		port = int(cmd.Int("port"))
	}

	// 起動時にモデルを選択できるか確認する（失敗してもサーバは起動する）
	health := httpapi.Health{StoreBackend: cont.StoreBackend}
	if engine, err := cont.NewEngine(ctx); err != nil {
		log.Warn("No synthesis model available at startup", "error", err)
	} else {
		health.Model = engine.Model()
	}

	handler := httpapi.NewHandler(cont.JobManager, cont.Events, health, log)
	server := httpapi.NewServer(handler, log)

	if err := server.Run(ctx, port, cfg.Server.ShutdownTimeout); err != nil {
		return err
	}

	// 実行中のジョブは中断できないため、終了まで待つ
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := cont.JobManager.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ジョブの終了待ちに失敗: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
