package mysql

// Note: `text` is reserved; keep it quoted everywhere.
const reviewColumns = "id, user_id, poi_id, rating, `text`, is_deleted, created_at"

const reviewsByUserSQL = `
SELECT ` + reviewColumns + `
FROM reviews
WHERE user_id = ? AND is_deleted = 0
`

const reviewsByPOISQL = `
SELECT ` + reviewColumns + `
FROM reviews
WHERE poi_id = ? AND is_deleted = 0
`

// Same filter the user lookup endpoints apply: soft-deleted or inactive users do not exist.
const userExistsSQL = `
SELECT 1 FROM users
WHERE id = ? AND is_deleted = 0 AND is_active = 1
`

const listActiveUserIDsSQL = `
SELECT id FROM users
WHERE is_deleted = 0 AND is_active = 1
ORDER BY id
`

const updateReliabilitySQL = `
UPDATE users
SET reliability_score = ?
WHERE id = ? AND is_deleted = 0
`

// Used by tests and seeding tools.
const insertUserSQL = `
INSERT INTO users (id, name, email, is_active, is_deleted)
VALUES (?, ?, ?, ?, ?)
`

const insertPOISQL = `
INSERT INTO pois (id, name) VALUES (?, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name)
`

const insertReviewPrefix = "INSERT INTO reviews\n  (user_id, poi_id, rating, `text`, is_deleted, created_at)\nVALUES "

const setReviewDeletedSQL = `
UPDATE reviews SET is_deleted = ? WHERE id = ?
`

const getReliabilitySQL = `
SELECT reliability_score FROM users WHERE id = ?
`
