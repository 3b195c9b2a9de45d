package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seagate85/AbstractBooking/internal/booking"
	"github.com/seagate85/AbstractBooking/internal/errs"
	"github.com/seagate85/AbstractBooking/internal/model"
)

type PostgresStorage struct {
	db *pgxpool.Pool
}

func (store *PostgresStorage) initSchema(ctx context.Context, commissionRate float64) error {
	const initSchemaQuery = `
	CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		login TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS accounts (
		user_id INT PRIMARY KEY REFERENCES users(id),
		balance NUMERIC NOT NULL DEFAULT 0 CHECK (balance >= 0)
	);
	CREATE TABLE IF NOT EXISTS system_account (
		id INT PRIMARY KEY CHECK (id = 1),
		accrued NUMERIC NOT NULL DEFAULT 0,
		commission_rate NUMERIC NOT NULL CHECK (commission_rate >= 0 AND commission_rate <= 1)
	);
	CREATE TABLE IF NOT EXISTS bookings (
		id SERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		text TEXT NOT NULL,
		price NUMERIC NOT NULL CHECK (price > 0),
		customer_id INT NOT NULL REFERENCES users(id),
		performer_id INT REFERENCES users(id),
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at TIMESTAMP DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS booking_candidates (
		booking_id INT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		performer_id INT NOT NULL REFERENCES users(id),
		created_at TIMESTAMP DEFAULT NOW(),
		PRIMARY KEY (booking_id, performer_id)
	);
	CREATE TABLE IF NOT EXISTS comments (
		id SERIAL PRIMARY KEY,
		booking_id INT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		author_id INT NOT NULL REFERENCES users(id),
		text TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT NOW()
	);`

	const seedSystemAccountQuery = `
	INSERT INTO system_account (id, accrued, commission_rate)
	VALUES (1, 0, $1)
	ON CONFLICT (id) DO UPDATE SET commission_rate = EXCLUDED.commission_rate`

	if _, err := store.db.Exec(ctx, initSchemaQuery); err != nil {
		return err
	}

	_, err := store.db.Exec(ctx, seedSystemAccountQuery, commissionRate)
	return err
}

func NewPostgresStorage(ctx context.Context, DatabaseURI string, commissionRate float64) (*PostgresStorage, error) {
	db, err := pgxpool.New(ctx, DatabaseURI)
	if err != nil {
		return nil, err
	}

	storage := &PostgresStorage{db: db}

	if err := storage.Ping(ctx); err != nil {
		return nil, err
	}

	if err := storage.initSchema(ctx, commissionRate); err != nil {
		return nil, err
	}

	return storage, nil
}

func (store *PostgresStorage) Ping(ctx context.Context) error {
	return store.db.Ping(ctx)
}

func (s *PostgresStorage) CreateUser(ctx context.Context, login, passwordHash string, role model.Role) error {
	const insertUserQuery = `INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`
	const insertAccountQuery = `INSERT INTO accounts (user_id, balance) VALUES ($1, 0)`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int
	err = tx.QueryRow(ctx, insertUserQuery, login, passwordHash, role).Scan(&userID)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			// 23505 — уникальное ограничение нарушено
			return errs.ErrLoginAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}

	// счет создается вместе с пользователем
	if _, err := tx.Exec(ctx, insertAccountQuery, userID); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStorage) GetUserByLogin(ctx context.Context, login string) (model.User, string, error) {
	const query = `SELECT id, login, role, password_hash FROM users WHERE login = $1`

	var user model.User
	var hash string

	err := s.db.QueryRow(ctx, query, login).Scan(&user.ID, &user.Login, &user.Role, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, "", errs.ErrUserNotFound
		}
		return model.User{}, "", fmt.Errorf("get user by login: %w", err)
	}

	return user, hash, nil
}

func (s *PostgresStorage) GetUserByID(ctx context.Context, id int) (model.User, error) {
	const query = `SELECT id, login, role FROM users WHERE id = $1`

	var user model.User

	err := s.db.QueryRow(ctx, query, id).Scan(&user.ID, &user.Login, &user.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, errs.ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("get user by id: %w", err)
	}

	return user, nil
}

func (s *PostgresStorage) GetAccount(ctx context.Context, userID int) (model.Account, error) {
	const query = `SELECT user_id, balance FROM accounts WHERE user_id = $1`

	var account model.Account

	err := s.db.QueryRow(ctx, query, userID).Scan(&account.UserID, &account.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, errs.ErrNoProfile
		}
		return model.Account{}, fmt.Errorf("get account: %w", err)
	}

	return account, nil
}

func (s *PostgresStorage) CreditAccount(ctx context.Context, userID int, amount float64) error {
	const query = `UPDATE accounts SET balance = balance + $1 WHERE user_id = $2`

	cmdTag, err := s.db.Exec(ctx, query, amount, userID)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return errs.ErrNoProfile
	}

	return nil
}

func (s *PostgresStorage) CreateBooking(ctx context.Context, customer model.User, req model.CreateBookingRequest) (int, error) {
	const query = `
		INSERT INTO bookings (title, text, price, customer_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id int
	err := s.db.QueryRow(ctx, query, req.Title, req.Text, req.Price, customer.ID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert booking: %w", err)
	}

	return id, nil
}

// ListBookings возвращает заказы вместе с действием, доступным viewer.
// own=false — общая лента без завершенных заказов, own=true — заказы, где
// viewer заказчик или исполнитель.
func (s *PostgresStorage) ListBookings(ctx context.Context, viewer model.User, own bool) ([]model.BookingView, error) {
	const allQuery = `
		SELECT b.id, b.title, b.text, b.price, b.customer_id, b.performer_id, b.status, b.created_at,
		       COALESCE(a.balance, 0) >= b.price AS funded
		FROM bookings b
		LEFT JOIN accounts a ON a.user_id = b.customer_id
		WHERE b.status <> 'COMPLETED'
		ORDER BY b.created_at DESC, b.id DESC`

	const ownQuery = `
		SELECT b.id, b.title, b.text, b.price, b.customer_id, b.performer_id, b.status, b.created_at,
		       COALESCE(a.balance, 0) >= b.price AS funded
		FROM bookings b
		LEFT JOIN accounts a ON a.user_id = b.customer_id
		WHERE b.customer_id = $1 OR b.performer_id = $1
		ORDER BY b.created_at DESC, b.id DESC`

	var rows pgx.Rows
	var err error
	if own {
		rows, err = s.db.Query(ctx, ownQuery, viewer.ID)
	} else {
		rows, err = s.db.Query(ctx, allQuery)
	}
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var views []model.BookingView
	var funded []bool
	ids := []int{}
	index := map[int]int{}

	for rows.Next() {
		var v model.BookingView
		var ok bool
		err := rows.Scan(&v.ID, &v.Title, &v.Text, &v.Price, &v.CustomerID, &v.PerformerID,
			&v.Status, &v.CreatedAt, &ok)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		index[v.ID] = len(views)
		ids = append(ids, v.ID)
		views = append(views, v)
		funded = append(funded, ok)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}

	if len(views) == 0 {
		return nil, nil
	}

	if err := s.attachCandidates(ctx, ids, index, views); err != nil {
		return nil, err
	}

	for i := range views {
		views[i].Action = booking.AllowedActionFor(views[i].Booking, viewer, funded[i])
	}

	return views, nil
}

func (s *PostgresStorage) attachCandidates(ctx context.Context, ids []int, index map[int]int, views []model.BookingView) error {
	const query = `
		SELECT booking_id, performer_id
		FROM booking_candidates
		WHERE booking_id = ANY($1)
		ORDER BY created_at, performer_id`

	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bookingID, performerID int
		if err := rows.Scan(&bookingID, &performerID); err != nil {
			return fmt.Errorf("scan candidate: %w", err)
		}
		if i, ok := index[bookingID]; ok {
			views[i].Candidates = append(views[i].Candidates, performerID)
		}
	}

	return rows.Err()
}

// GetBooking возвращает карточку заказа с комментариями. Доступна только
// заказчику и исполнителю, для остальных заказ "не найден".
func (s *PostgresStorage) GetBooking(ctx context.Context, bookingID int, viewer model.User) (model.Booking, []model.Comment, error) {
	const query = `
		SELECT id, title, text, price, customer_id, performer_id, status, created_at
		FROM bookings WHERE id = $1`

	const commentsQuery = `
		SELECT id, booking_id, author_id, text, created_at
		FROM comments
		WHERE booking_id = $1
		ORDER BY created_at DESC, id DESC`

	var b model.Booking
	err := s.db.QueryRow(ctx, query, bookingID).Scan(&b.ID, &b.Title, &b.Text, &b.Price,
		&b.CustomerID, &b.PerformerID, &b.Status, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Booking{}, nil, errs.ErrBookingNotFound
		}
		return model.Booking{}, nil, fmt.Errorf("get booking: %w", err)
	}

	if !booking.CanViewDetails(&b, viewer) {
		return model.Booking{}, nil, errs.ErrBookingNotFound
	}

	rows, err := s.db.Query(ctx, commentsQuery, bookingID)
	if err != nil {
		return model.Booking{}, nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []model.Comment
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.BookingID, &c.AuthorID, &c.Text, &c.CreatedAt); err != nil {
			return model.Booking{}, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return model.Booking{}, nil, fmt.Errorf("row iteration: %w", err)
	}

	return b, comments, nil
}

// lockBooking загружает заказ со списком кандидатов под блокировкой строки.
func (s *PostgresStorage) lockBooking(ctx context.Context, tx pgx.Tx, bookingID int) (model.Booking, error) {
	const query = `
		SELECT id, title, text, price, customer_id, performer_id, status, created_at
		FROM bookings WHERE id = $1 FOR UPDATE`

	const candidatesQuery = `
		SELECT performer_id FROM booking_candidates
		WHERE booking_id = $1
		ORDER BY created_at, performer_id`

	var b model.Booking
	err := tx.QueryRow(ctx, query, bookingID).Scan(&b.ID, &b.Title, &b.Text, &b.Price,
		&b.CustomerID, &b.PerformerID, &b.Status, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Booking{}, errs.ErrBookingNotFound
		}
		return model.Booking{}, fmt.Errorf("lock booking: %w", err)
	}

	rows, err := tx.Query(ctx, candidatesQuery, bookingID)
	if err != nil {
		return model.Booking{}, fmt.Errorf("lock booking candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var performerID int
		if err := rows.Scan(&performerID); err != nil {
			return model.Booking{}, fmt.Errorf("scan candidate: %w", err)
		}
		b.Candidates = append(b.Candidates, performerID)
	}
	if err := rows.Err(); err != nil {
		return model.Booking{}, fmt.Errorf("row iteration: %w", err)
	}

	return b, nil
}

func (s *PostgresStorage) lockAccount(ctx context.Context, tx pgx.Tx, userID int) (model.Account, error) {
	const query = `SELECT user_id, balance FROM accounts WHERE user_id = $1 FOR UPDATE`

	var account model.Account
	err := tx.QueryRow(ctx, query, userID).Scan(&account.UserID, &account.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, errs.ErrNoProfile
		}
		return model.Account{}, fmt.Errorf("lock account: %w", err)
	}

	return account, nil
}

// OfferPerformer — исполнитель подает заявку на заказ. Статус заказа и
// баланс заказчика проверяются под блокировкой строки заказа, заявка и
// смена статуса фиксируются одной транзакцией.
func (s *PostgresStorage) OfferPerformer(ctx context.Context, bookingID int, actor model.User) error {
	const insertCandidateQuery = `INSERT INTO booking_candidates (booking_id, performer_id) VALUES ($1, $2)`
	const updateStatusQuery = `UPDATE bookings SET status = $1 WHERE id = $2`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := s.lockBooking(ctx, tx, bookingID)
	if err != nil {
		return err
	}

	const customerAccountQuery = `SELECT user_id, balance FROM accounts WHERE user_id = $1`
	var customerAccount model.Account
	err = tx.QueryRow(ctx, customerAccountQuery, b.CustomerID).Scan(&customerAccount.UserID, &customerAccount.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNoProfile
		}
		return fmt.Errorf("get customer account: %w", err)
	}

	if err := booking.Offer(&b, actor, customerAccount); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, insertCandidateQuery, bookingID, actor.ID); err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	if _, err := tx.Exec(ctx, updateStatusQuery, b.Status, bookingID); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	return tx.Commit(ctx)
}

// ApprovePerformer — заказчик подтверждает одного из кандидатов. Списание
// цены со счета заказчика, назначение исполнителя, очистка кандидатов и
// переход в RUNNING происходят в одной транзакции.
func (s *PostgresStorage) ApprovePerformer(ctx context.Context, bookingID int, actor model.User, chosenID int) error {
	const debitQuery = `UPDATE accounts SET balance = $1 WHERE user_id = $2`
	const assignQuery = `UPDATE bookings SET status = $1, performer_id = $2 WHERE id = $3`
	const clearCandidatesQuery = `DELETE FROM booking_candidates WHERE booking_id = $1`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := s.lockBooking(ctx, tx, bookingID)
	if err != nil {
		return err
	}

	customerAccount, err := s.lockAccount(ctx, tx, b.CustomerID)
	if err != nil {
		return err
	}

	if err := booking.Approve(&b, actor, chosenID, &customerAccount); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, debitQuery, customerAccount.Balance, customerAccount.UserID); err != nil {
		return fmt.Errorf("debit customer: %w", err)
	}
	if _, err := tx.Exec(ctx, assignQuery, b.Status, b.PerformerID, bookingID); err != nil {
		return fmt.Errorf("assign performer: %w", err)
	}
	if _, err := tx.Exec(ctx, clearCandidatesQuery, bookingID); err != nil {
		return fmt.Errorf("clear candidates: %w", err)
	}

	return tx.Commit(ctx)
}

// CompleteBooking — завершение заказа заказчиком: комиссия уходит на
// системный счет, остаток — исполнителю. Ставка комиссии читается из
// системного счета в момент завершения.
func (s *PostgresStorage) CompleteBooking(ctx context.Context, bookingID int, actor model.User) (model.Payout, error) {
	const lockSystemQuery = `SELECT accrued, commission_rate FROM system_account WHERE id = 1 FOR UPDATE`
	const accrueQuery = `UPDATE system_account SET accrued = $1 WHERE id = 1`
	const creditPerformerQuery = `UPDATE accounts SET balance = $1 WHERE user_id = $2`
	const completeQuery = `UPDATE bookings SET status = $1 WHERE id = $2`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.Payout{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := s.lockBooking(ctx, tx, bookingID)
	if err != nil {
		return model.Payout{}, err
	}

	if b.Status == model.Running && b.PerformerID == nil {
		return model.Payout{}, errs.ErrNoProfile
	}

	var sys model.SystemAccount
	if err := tx.QueryRow(ctx, lockSystemQuery).Scan(&sys.Accrued, &sys.CommissionRate); err != nil {
		return model.Payout{}, fmt.Errorf("lock system account: %w", err)
	}

	var performerAccount model.Account
	if b.PerformerID != nil {
		performerAccount, err = s.lockAccount(ctx, tx, *b.PerformerID)
		if err != nil {
			return model.Payout{}, err
		}
	}

	commission, share, err := booking.Complete(&b, actor, &sys, &performerAccount)
	if err != nil {
		return model.Payout{}, err
	}

	if _, err := tx.Exec(ctx, accrueQuery, sys.Accrued); err != nil {
		return model.Payout{}, fmt.Errorf("accrue commission: %w", err)
	}
	if _, err := tx.Exec(ctx, creditPerformerQuery, performerAccount.Balance, performerAccount.UserID); err != nil {
		return model.Payout{}, fmt.Errorf("credit performer: %w", err)
	}
	if _, err := tx.Exec(ctx, completeQuery, b.Status, bookingID); err != nil {
		return model.Payout{}, fmt.Errorf("complete booking: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Payout{}, fmt.Errorf("commit: %w", err)
	}

	return model.Payout{Commission: commission, PerformerShare: share}, nil
}

// DeleteBooking удаляет заказ вместе с комментариями и кандидатами.
// Разрешено только заказчику и только в PENDING; все остальное для
// вызывающего неотличимо от отсутствующего заказа.
func (s *PostgresStorage) DeleteBooking(ctx context.Context, bookingID int, actor model.User) error {
	const deleteCommentsQuery = `DELETE FROM comments WHERE booking_id = $1`
	const deleteCandidatesQuery = `DELETE FROM booking_candidates WHERE booking_id = $1`
	const deleteBookingQuery = `DELETE FROM bookings WHERE id = $1`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := s.lockBooking(ctx, tx, bookingID)
	if err != nil {
		return err
	}

	if !booking.CanDelete(&b, actor) {
		return errs.ErrBookingNotFound
	}

	if _, err := tx.Exec(ctx, deleteCommentsQuery, bookingID); err != nil {
		return fmt.Errorf("delete comments: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteCandidatesQuery, bookingID); err != nil {
		return fmt.Errorf("delete candidates: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteBookingQuery, bookingID); err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStorage) UpdateBooking(ctx context.Context, bookingID int, actor model.User, req model.UpdateBookingRequest) error {
	const updateQuery = `UPDATE bookings SET title = $1, text = $2 WHERE id = $3`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := s.lockBooking(ctx, tx, bookingID)
	if err != nil {
		return err
	}

	if !booking.CanUpdate(&b, actor) {
		return errs.ErrBookingNotFound
	}

	if req.Title != nil {
		b.Title = *req.Title
	}
	if req.Text != nil {
		b.Text = *req.Text
	}

	if _, err := tx.Exec(ctx, updateQuery, b.Title, b.Text, bookingID); err != nil {
		return fmt.Errorf("update booking: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStorage) AddComment(ctx context.Context, bookingID int, author model.User, text string) (model.Comment, error) {
	const bookingQuery = `
		SELECT id, title, text, price, customer_id, performer_id, status, created_at
		FROM bookings WHERE id = $1`

	const insertQuery = `
		INSERT INTO comments (booking_id, author_id, text)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	var b model.Booking
	err := s.db.QueryRow(ctx, bookingQuery, bookingID).Scan(&b.ID, &b.Title, &b.Text, &b.Price,
		&b.CustomerID, &b.PerformerID, &b.Status, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Comment{}, errs.ErrBookingNotFound
		}
		return model.Comment{}, fmt.Errorf("get booking: %w", err)
	}

	if err := booking.CanComment(&b, author); err != nil {
		return model.Comment{}, err
	}

	comment := model.Comment{BookingID: bookingID, AuthorID: author.ID, Text: text}
	err = s.db.QueryRow(ctx, insertQuery, bookingID, author.ID, text).Scan(&comment.ID, &comment.CreatedAt)
	if err != nil {
		return model.Comment{}, fmt.Errorf("insert comment: %w", err)
	}

	return comment, nil
}
