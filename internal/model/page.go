package model

// Page is one slice of a backward-paged collection. Page 0 holds the most
// recent elements; higher page numbers reach further into history.
type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int64 `json:"totalPages"`
	Number        int64 `json:"number"`
	First         bool  `json:"first"`
	Last          bool  `json:"last"`
}
