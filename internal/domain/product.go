package domain

import "time"

type Product struct {
	ID          int64
	Name        string
	Description string
	Price       float64
	ImageURL    string
	Sizes       []string
	Colors      []string
	CreatedAt   time.Time
}
