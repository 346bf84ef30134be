package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"
)

// ModelsAction は選択されたモデルと候補を表示するコマンドのアクション
func ModelsAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	engine, err := appCtx.Container.NewEngine(ctx)
	if err != nil {
		return fmt.Errorf("モデルの選択に失敗: %w", err)
	}

	fmt.Printf("selected:   %s\n", engine.Model())
	fmt.Printf("candidates: %s\n", strings.Join(engine.Candidates(), ", "))
	return nil
}
