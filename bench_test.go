/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgq

import (
	"context"
	"os"
	"testing"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgx/v4/pgxpool"
)

type Goods struct {
	ID          int
	Description string
}

func BenchmarkPreparedSelect(b *testing.B) {
	dsn := os.Getenv("PGQ_TEST_DATABASE")
	if dsn == "" {
		b.Skip("PGQ_TEST_DATABASE not set")
	}

	ctx := context.Background()
	var config Config
	if err := config.ParseConfig(dsn); err != nil {
		b.Fatal(err)
	}
	p := NewPool(&config, 8)
	defer p.Close()

	str := "select id, description from goods where id >= $1 order by id limit 20"
	var arr []Goods
	b.ResetTimer()
	b.ReportAllocs()

	for i := 10; i < b.N+10; i++ {
		result, err := p.QueryArray(ctx, str, i)
		if err != nil {
			b.Fatal(err)
		}
		if err := ScanAll(&arr, result); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPreparedSelectPGX(b *testing.B) {
	dsn := os.Getenv("PGX_TEST_DATABASE")
	if dsn == "" {
		b.Skip("PGX_TEST_DATABASE not set")
	}

	ctx := context.Background()
	db, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		b.Fatal(err)
	}
	defer db.Close()

	str := "select id, description from goods where id >= $1 order by id asc limit 20"

	var arr []Goods
	b.ResetTimer()
	b.ReportAllocs()

	for i := 10; i < b.N+10; i++ {
		err := pgxscan.Select(
			ctx, db, &arr, str, i,
		)
		if err != nil {
			b.Fatal(err)
		}
	}
}
