package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/boqhub/text2sql-go/internal/bootstrap"
	"github.com/boqhub/text2sql-go/internal/config"
	"github.com/boqhub/text2sql-go/internal/knowledge"
	"github.com/boqhub/text2sql-go/internal/logger"
	"github.com/boqhub/text2sql-go/internal/services"
)

func main() {
	var (
		question   = flag.String("q", "", "单次提问，留空进入交互模式")
		dialect    = flag.String("dialect", "", "目标SQL方言，默认取配置")
		noValidate = flag.Bool("no-validate", false, "跳过生成后的SQL校验")
	)
	flag.Parse()

	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}
	defer app.Shutdown()

	ctx := context.Background()

	err = app.Container.Invoke(func(router *services.QueryRouter, registry *services.TableRegistry, store knowledge.VectorStore, cfg *config.Config) error {
		// 启动时从向量集合刷新表名注册表，路由规则依赖它做表名直达
		if err := registry.Refresh(ctx, store); err != nil {
			logger.Warn("failed to refresh table registry, table mention routing degraded", zap.Error(err))
		}

		d := *dialect
		if d == "" {
			d = cfg.Generator.Dialect
		}
		validate := !*noValidate

		if *question != "" {
			return ask(ctx, router, *question, d, validate)
		}

		fmt.Println("text2sql interactive mode, type a question or 'exit'")
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "exit" || line == "quit" {
				break
			}
			if err := ask(ctx, router, line, d, validate); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
		return scanner.Err()
	})
	if err != nil {
		logger.Error("text2sql session failed", zap.Error(err))
		os.Exit(1)
	}
}

func ask(ctx context.Context, router *services.QueryRouter, question, dialect string, validate bool) error {
	result, err := router.Route(ctx, question, dialect, validate)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
