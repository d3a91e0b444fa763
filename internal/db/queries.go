package db

const (
	insertUser = `
		INSERT INTO users (username, password_hash, role, department, balance_cents, page_quota)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	getUserByID = `
		SELECT id, username, password_hash, role, department, balance_cents, page_quota, created_at, updated_at
		FROM users WHERE id = ?
	`

	getUserByUsername = `
		SELECT id, username, password_hash, role, department, balance_cents, page_quota, created_at, updated_at
		FROM users WHERE username = ?
	`

	listUsers = `
		SELECT id, username, password_hash, role, department, balance_cents, page_quota, created_at, updated_at
		FROM users ORDER BY username ASC
	`

	creditUserBalance = `
		UPDATE users SET balance_cents = balance_cents + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	setUserPageQuota = `
		UPDATE users SET page_quota = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	setUserDepartment = `
		UPDATE users SET department = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`
)

const (
	insertDepartment = `
		INSERT INTO departments (name, cost_center) VALUES (?, ?)
	`

	listDepartments = `
		SELECT id, name, cost_center, created_at FROM departments ORDER BY name ASC
	`
)

const (
	insertPolicyRule = `
		INSERT INTO policy_rules (
			scope, scope_value, max_pages, max_copies, force_duplex_above_pages,
			color_allowed, color_page_limit, cost_multiplier, window_start_hour, window_end_hour
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	listPolicyRules = `
		SELECT id, scope, scope_value, max_pages, max_copies, force_duplex_above_pages,
			color_allowed, color_page_limit, cost_multiplier, window_start_hour, window_end_hour,
			created_at, updated_at
		FROM policy_rules
		ORDER BY CASE scope WHEN 'global' THEN 0 WHEN 'department' THEN 1 ELSE 2 END, id ASC
	`

	deletePolicyRule = `DELETE FROM policy_rules WHERE id = ?`
)

const (
	upsertSetting = `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`

	getSetting = `SELECT key, value, updated_at FROM settings WHERE key = ?`
)

const (
	insertAuditEntry = `
		INSERT INTO audit_log (action, entity_type, entity_id, actor_id, details_json)
		VALUES (?, ?, ?, ?, ?)
	`

	listAuditEntries = `
		SELECT id, action, entity_type, entity_id, actor_id, details_json, created_at
		FROM audit_log ORDER BY id DESC LIMIT ?
	`
)
