package storage

// filterShape selects one of the fixed query templates for a ListFilter.
type filterShape int

const (
	shapeNone filterShape = iota
	shapeDevice
	shapeRange
	shapeDeviceRange
	shapeCount
)

func shapeOf(f ListFilter) filterShape {
	switch {
	case f.DeviceID != "" && f.HasRange():
		return shapeDeviceRange
	case f.DeviceID != "":
		return shapeDevice
	case f.HasRange():
		return shapeRange
	default:
		return shapeNone
	}
}

// filterArgs returns the bind values for the shape's filter placeholders,
// device first, then range.
func filterArgs(f ListFilter) []any {
	args := make([]any, 0, 5)
	if f.DeviceID != "" {
		args = append(args, f.DeviceID)
	}
	if f.HasRange() {
		from, to := f.bounds()
		args = append(args, from, to)
	}
	return args
}

const windowColumns = `a.id, a.device_id, a.window_start, a.last_seen,
		a.flame_peak, a.flame_avg, a.smoke_peak, a.smoke_avg,
		a.temp_peak, a.temp_avg, a.gas_peak, a.gas_avg, a.alert_level`

const (
	pendingSelect = `SELECT ` + windowColumns + `
		FROM incident_alerts a
		WHERE a.alert_level >= 2`
	pendingTail = `
		AND NOT EXISTS (
			SELECT 1 FROM verified_incidents v
			WHERE v.alert_window_id = a.id
			   OR (v.device_id = a.device_id AND ABS(v.event_at - a.window_start) < ?)
		)
		ORDER BY a.window_start DESC, a.id
		LIMIT ?`
)

var pendingTemplates = [shapeCount]string{
	shapeNone:        pendingSelect + pendingTail,
	shapeDevice:      pendingSelect + ` AND a.device_id = ?` + pendingTail,
	shapeRange:       pendingSelect + ` AND a.window_start BETWEEN ? AND ?` + pendingTail,
	shapeDeviceRange: pendingSelect + ` AND a.device_id = ? AND a.window_start BETWEEN ? AND ?` + pendingTail,
}

const windowByID = `SELECT ` + windowColumns + ` FROM incident_alerts a WHERE a.id = ?`

const (
	verifiedSelect = `SELECT v.id, v.device_id, v.event_at, v.alert_level,
		v.flame_peak, v.smoke_peak, v.temp_peak, v.gas_peak, v.notes,
		v.alert_window_id, v.verified_by, COALESCE(u.username, ''), v.verified_at
		FROM verified_incidents v
		LEFT JOIN users u ON u.id = v.verified_by`
	verifiedOrder = `
		ORDER BY v.verified_at DESC, v.id
		LIMIT ?`
)

var verifiedTemplates = [shapeCount]string{
	shapeNone:        verifiedSelect + verifiedOrder,
	shapeDevice:      verifiedSelect + ` WHERE v.device_id = ?` + verifiedOrder,
	shapeRange:       verifiedSelect + ` WHERE v.event_at BETWEEN ? AND ?` + verifiedOrder,
	shapeDeviceRange: verifiedSelect + ` WHERE v.device_id = ? AND v.event_at BETWEEN ? AND ?` + verifiedOrder,
}

const verifiedByID = verifiedSelect + ` WHERE v.id = ?`

const verifiedInsert = `
	INSERT INTO verified_incidents (id, device_id, event_at, alert_level,
		flame_peak, smoke_peak, temp_peak, gas_peak, notes,
		alert_window_id, verified_by, verified_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const (
	officialSelect = `SELECT o.id, o.verified_incident_id, o.device_id, o.event_at, o.alert_level,
		o.incident_type, o.establishment_type, o.probable_cause, o.barangay, o.city,
		o.estimated_damage, o.injuries, o.fatalities, o.remarks,
		o.verified_by, COALESCE(vu.username, ''), o.verified_at,
		o.generated_by, COALESCE(gu.username, ''), o.generated_at
		FROM official_incidents o
		LEFT JOIN users vu ON vu.id = o.verified_by
		LEFT JOIN users gu ON gu.id = o.generated_by`
	officialOrder = `
		ORDER BY o.event_at DESC, o.id
		LIMIT ?`
)

var officialTemplates = [shapeCount]string{
	shapeNone:        officialSelect + officialOrder,
	shapeDevice:      officialSelect + ` WHERE o.device_id = ?` + officialOrder,
	shapeRange:       officialSelect + ` WHERE o.event_at BETWEEN ? AND ?` + officialOrder,
	shapeDeviceRange: officialSelect + ` WHERE o.device_id = ? AND o.event_at BETWEEN ? AND ?` + officialOrder,
}

const officialByID = officialSelect + ` WHERE o.id = ?`

const officialInsert = `
	INSERT INTO official_incidents (id, verified_incident_id, device_id, event_at, alert_level,
		incident_type, establishment_type, probable_cause, barangay, city,
		estimated_damage, injuries, fatalities, remarks,
		verified_by, verified_at, generated_by, generated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const (
	messageSelect = `SELECT m.id, m.user_id, COALESCE(u.username, ''), COALESCE(u.role, 'user'),
		m.body, m.message_type, m.created_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id`
	messageInsert = `INSERT INTO messages (id, user_id, body, message_type, created_at) VALUES (?, ?, ?, ?, ?)`
	messageByID   = messageSelect + ` WHERE m.id = ?`
	messageList   = messageSelect + ` ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?`
	messageDelete = `DELETE FROM messages WHERE id = ?`
)

const (
	userColumns        = `id, username, email, password_hash, role, created_at, updated_at`
	userInsert         = `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	userByID           = `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	userByUsername     = `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	userByEmail        = `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	userList           = `SELECT ` + userColumns + ` FROM users ORDER BY username`
	userCount          = `SELECT COUNT(*) FROM users`
	userUpdatePassword = `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`
)

// queries holds every statement rebound for one dialect.
type queries struct {
	pending  [shapeCount]string
	verified [shapeCount]string
	official [shapeCount]string

	windowByID     string
	verifiedByID   string
	verifiedInsert string
	officialByID   string
	officialInsert string

	messageInsert string
	messageByID   string
	messageList   string
	messageDelete string

	userInsert         string
	userByID           string
	userByUsername     string
	userByEmail        string
	userList           string
	userCount          string
	userUpdatePassword string
}

func newQueries(d dialect) *queries {
	q := &queries{
		windowByID:         d.rebind(windowByID),
		verifiedByID:       d.rebind(verifiedByID),
		verifiedInsert:     d.rebind(verifiedInsert),
		officialByID:       d.rebind(officialByID),
		officialInsert:     d.rebind(officialInsert),
		messageInsert:      d.rebind(messageInsert),
		messageByID:        d.rebind(messageByID),
		messageList:        d.rebind(messageList),
		messageDelete:      d.rebind(messageDelete),
		userInsert:         d.rebind(userInsert),
		userByID:           d.rebind(userByID),
		userByUsername:     d.rebind(userByUsername),
		userByEmail:        d.rebind(userByEmail),
		userList:           d.rebind(userList),
		userCount:          d.rebind(userCount),
		userUpdatePassword: d.rebind(userUpdatePassword),
	}
	for s := shapeNone; s < shapeCount; s++ {
		q.pending[s] = d.rebind(pendingTemplates[s])
		q.verified[s] = d.rebind(verifiedTemplates[s])
		q.official[s] = d.rebind(officialTemplates[s])
	}
	return q
}
