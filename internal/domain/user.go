package domain

type User struct {
	ID               int64
	Name             string
	Email            string
	ReliabilityScore int
	IsActive         bool
	IsDeleted        bool
}

type POI struct {
	ID   int64
	Name string
}
