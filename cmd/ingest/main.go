package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/boqhub/text2sql-go/internal/bootstrap"
	"github.com/boqhub/text2sql-go/internal/knowledge"
	"github.com/boqhub/text2sql-go/internal/logger"
)

func main() {
	var (
		input    = flag.String("input", "", "知识块JSON文件路径")
		clearAll = flag.Bool("clear", false, "摄取前删除并重建集合")
		reembed  = flag.Bool("reembed", false, "重嵌入模式：按表删除旧块后插入新块")
		stats    = flag.Bool("stats", false, "仅打印集合统计信息")
	)
	flag.Parse()

	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}
	defer app.Shutdown()

	ctx := context.Background()

	if *stats {
		err := app.Container.Invoke(func(store knowledge.VectorStore) error {
			collStats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(collStats, "", "  ")
			fmt.Println(string(out))
			return nil
		})
		if err != nil {
			logger.Error("failed to read collection stats", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: ingest --input <path> [--clear] [--reembed]")
		os.Exit(2)
	}

	loader := knowledge.NewChunkLoader()
	chunks, report, err := loader.LoadFile(*input)
	if err != nil {
		logger.Error("failed to load chunk file", zap.String("path", *input), zap.Error(err))
		os.Exit(1)
	}
	if !report.OK() {
		// 任何一条非法记录都中止整轮摄取，逐条列出问题下标
		fmt.Fprintln(os.Stderr, "validation failed:")
		for _, e := range report.Invalid {
			fmt.Fprintf(os.Stderr, "  entry %d: %s (%s)\n", e.Index, e.Message, e.Field)
		}
		os.Exit(1)
	}

	err = app.Container.Invoke(func(ingestor *knowledge.Ingestor) error {
		var result *knowledge.IngestResult
		var err error
		if *reembed {
			result, err = ingestor.Reembed(ctx, chunks)
		} else {
			result, err = ingestor.Ingest(ctx, chunks, *clearAll)
		}
		if err != nil {
			return err
		}
		logger.Info("ingestion finished",
			zap.Int("inserted", result.Inserted),
			zap.Strings("tables", result.Tables),
		)
		return nil
	})
	if err != nil {
		logger.Error("ingestion failed", zap.Error(err))
		os.Exit(1)
	}
}
