/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package main

import (
	"context"
	"log"
	"os"

	"pgq"
)

func main() {
	ctx := context.Background()

	var config pgq.Config
	if err := config.ParseConfig(os.Getenv("PGQ_TEST_DATABASE")); err != nil {
		log.Fatal(err)
	}
	config.OnWarning = func(msg string) {
		log.Println("warning:", msg)
	}

	pool := pgq.NewPool(&config, 4)
	defer pool.Close()

	result, err := pool.QueryArray(ctx, "select id, brand_id from goods where brand_id = $1 order by title limit 20", 100000)
	if err != nil {
		log.Fatal(err)
	}
	for _, row := range result.Rows {
		log.Println(row...)
	}

	objects, err := pool.QueryObject(ctx, pgq.Query{
		Text:   "select id, title from goods order by id limit $1",
		Args:   []interface{}{5},
		Fields: []string{"goodId", "goodTitle"},
	})
	if err != nil {
		log.Fatal(err)
	}
	for _, row := range objects.Rows {
		log.Println(row["goodId"], row["goodTitle"])
	}
}
