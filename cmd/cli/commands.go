package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/and161185/cc42-scan/internal/attendance"
	"github.com/and161185/cc42-scan/internal/authcache"
	"github.com/and161185/cc42-scan/internal/config"
	"github.com/and161185/cc42-scan/internal/crypto/qrcrypto"
	"github.com/and161185/cc42-scan/internal/model"
	"github.com/and161185/cc42-scan/internal/payload"
	"github.com/and161185/cc42-scan/internal/repository/remote"
	"github.com/and161185/cc42-scan/internal/scan"
	"github.com/and161185/cc42-scan/internal/store"
	"github.com/and161185/cc42-scan/internal/subscription"
)

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

// client connects with the given token ("" for anonymous calls).
func (a *app) client(token string) (*remote.Client, func(), error) {
	cc, err := a.dial(token)
	if err != nil {
		return nil, nil, err
	}
	return remote.NewClient(cc), func() { _ = cc.Close() }, nil
}

// remoteStore opens the shared document store with the cached session.
func (a *app) remoteStore() (*store.DocStore, authcache.Cache, func(), error) {
	sess, err := a.cache.Load()
	if err != nil {
		return nil, authcache.Cache{}, nil, err
	}
	cl, closeFn, err := a.client(sess.Value)
	if err != nil {
		return nil, authcache.Cache{}, nil, err
	}
	return store.New(remote.NewDocRepo(cl), a.log), sess, closeFn, nil
}

func (a *app) cipher() (*qrcrypto.Cipher, error) {
	if a.cfg.QRSecret == "" {
		return nil, errors.New("missing QR secret (-qr-secret or CC42_QR_SECRET)")
	}
	return qrcrypto.New([]byte(a.cfg.QRSecret))
}

func operator(sess authcache.Cache) model.Person {
	return model.Person{
		ID:          sess.Profile.IntraID,
		Login:       sess.Login,
		DisplayName: sess.Profile.DisplayName,
		ImageURL:    sess.Profile.ImageURL,
	}
}

// ---- account ----

func (a *app) register(ctx context.Context, args []string) error {
	fs := newFlags("register")
	login := fs.String("u", "", "login")
	pass := fs.String("p", "", "password")
	intra := fs.String("intra", "", "42 intra id")
	campus := fs.String("campus", "", "campus id")
	name := fs.String("name", "", "display name")
	image := fs.String("image", "", "avatar URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *login == "" || *pass == "" {
		return errors.New("need -u and -p")
	}

	cl, closeFn, err := a.client("")
	if err != nil {
		return err
	}
	defer closeFn()
	id, err := cl.Register(ctx, *login, *pass, model.Profile{
		IntraID:     *intra,
		DisplayName: *name,
		ImageURL:    *image,
		CampusID:    *campus,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlags("login")
	login := fs.String("u", "", "login")
	pass := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *login == "" || *pass == "" {
		return errors.New("need -u and -p")
	}

	cl, closeFn, err := a.client("")
	if err != nil {
		return err
	}
	defer closeFn()
	s, err := cl.Login(ctx, *login, *pass)
	if err != nil {
		return err
	}
	if err := a.cache.Save(authcache.Cache{
		Value:     s.Tokens.AccessToken,
		ExpiresAt: s.Tokens.ExpiresAt,
		Login:     s.Login,
		Profile:   s.Profile,
	}); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "ok: %s, campus %s (%s)\n", s.Login, s.Profile.CampusID, s.Profile.Role)
	return nil
}

// promote grants the staff role to another account of the caller's campus.
func (a *app) promote(ctx context.Context, args []string) error {
	fs := newFlags("promote")
	login := fs.String("u", "", "login to promote")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *login == "" {
		return errors.New("need -u")
	}
	sess, err := a.cache.Load()
	if err != nil {
		return err
	}
	cl, closeFn, err := a.client(sess.Value)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := cl.Promote(ctx, *login); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "ok: %s is staff\n", *login)
	return nil
}

func (a *app) whoami() error {
	sess, err := a.cache.Load()
	if err != nil {
		return err
	}
	a.printJSON(map[string]any{
		"login":     sess.Login,
		"intraId":   sess.Profile.IntraID,
		"campusId":  sess.Profile.CampusID,
		"role":      sess.Profile.Role,
		"expiresAt": sess.ExpiresAt,
	})
	return nil
}

// ---- codes ----

func (a *app) encode(args []string) error {
	fs := newFlags("encode")
	kind := fs.String("kind", "", "event|meal|badge")
	id := fs.String("id", "", "event or meal id")
	staff := fs.String("staff", "", "staff id (defaults to the cached intra id)")
	cursus := fs.String("cursus", "", "cursus id (badge)")
	plain := fs.Bool("plain", false, "print the plaintext instead of the QR token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sess, _ := a.cache.Load()
	if *staff == "" {
		*staff = sess.Profile.IntraID
	}

	var (
		text string
		err  error
	)
	switch *kind {
	case "event":
		text, err = payload.EncodeEvent(*id, *staff)
	case "meal":
		text, err = payload.EncodeMeal(*id, *staff)
	case "badge":
		if sess.Value == "" {
			return authcache.ErrNoSession
		}
		text, err = payload.EncodeBadge(model.Badge{
			StudentID:   sess.Profile.IntraID,
			Login:       sess.Login,
			DisplayName: sess.Profile.DisplayName,
			CursusID:    *cursus,
			CampusID:    sess.Profile.CampusID,
			ImageURL:    sess.Profile.ImageURL,
		})
	default:
		return fmt.Errorf("unknown -kind %q", *kind)
	}
	if err != nil {
		return err
	}
	if *plain {
		fmt.Fprintln(a.out, text)
		return nil
	}
	c, err := a.cipher()
	if err != nil {
		return err
	}
	token, ok := c.Encrypt(text)
	if !ok {
		return errors.New("cannot encrypt")
	}
	fmt.Fprintln(a.out, token)
	return nil
}

func (a *app) decode(args []string) error {
	fs := newFlags("decode")
	event := fs.Bool("event", false, "decode as an event screen")
	meal := fs.Bool("meal", false, "decode as a meal screen")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("need exactly one token")
	}
	c, err := a.cipher()
	if err != nil {
		return err
	}
	text, ok := c.Decrypt(fs.Arg(0))
	if !ok {
		return errors.New("invalid code")
	}
	cmd, err := payload.Decode(text, payload.Context{HasEventContext: *event, HasMealContext: *meal})
	if err != nil {
		return err
	}
	a.printJSON(map[string]any{"command": fmt.Sprintf("%T", cmd), "value": cmd})
	return nil
}

// ---- scanning ----

func (a *app) scan(ctx context.Context, args []string) error {
	fs := newFlags("scan")
	cursus := fs.String("cursus", "", "cursus id")
	event := fs.String("event", "", "event id")
	action := fs.String("action", "in", "in|out")
	meals := fs.String("meals", "", "comma separated meal ids")
	portion := fs.String("portion", "first", "first|second")
	quantity := fs.Int("quantity", 1, "portions handed out per scan")
	keep := fs.Bool("keep", false, "stay on the screen after a successful scan")
	timeout := fs.Duration("scan-timeout", scan.DefaultTimeout, "per scan timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sc := model.ScanContext{Cursus: *cursus, EventID: *event, MealIDs: config.List(*meals), Quantity: *quantity}
	switch {
	case *cursus == "":
		return errors.New("need -cursus")
	case sc.HasEventContext() && sc.HasMealContext():
		return errors.New("-event and -meals are exclusive")
	}
	switch *action {
	case "in":
	case "out":
		sc.Action = model.ActionCheckOut
	default:
		return fmt.Errorf("unknown -action %q", *action)
	}
	switch *portion {
	case "first":
	case "second":
		sc.Portion = model.PortionSecond
	default:
		return fmt.Errorf("unknown -portion %q", *portion)
	}

	c, err := a.cipher()
	if err != nil {
		return err
	}
	st, sess, closeFn, err := a.remoteStore()
	if err != nil {
		return err
	}
	defer closeFn()
	sc.Campus = sess.Profile.CampusID
	sc.Operator = operator(sess)

	return a.scanLoop(ctx, sc, scan.Deps{
		Cipher:        c,
		Attendance:    attendance.New(st, a.log),
		Subscriptions: subscription.New(st, a.log),
		Log:           a.log,
		Timeout:       *timeout,
	}, *keep)
}

// scanLoop feeds stdin lines to a session and dismisses each modal before the next line.
func (a *app) scanLoop(ctx context.Context, sc model.ScanContext, d scan.Deps, keep bool) error {
	ui := newTermUI(a.out, a.errOut)
	d.UI, d.Feedback = ui, ui
	sess := scan.NewSession(d)

	lines := newLineReader(ctx, a.in)
	for {
		var raw string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			raw = strings.TrimSpace(l)
		}
		if raw == "" {
			continue
		}
		sess.Handle(raw, sc)

		var m model.Modal
		select {
		case m = <-ui.modals:
		case <-ctx.Done():
			return nil
		}
		m.OnClose()
		if sess.State() == scan.StateClosed {
			if !keep {
				return nil
			}
			sess = scan.NewSession(d)
		}
	}
}

// ---- second portion ----

func mealFlags(name string) (*flag.FlagSet, *string, *string, *string) {
	fs := newFlags(name)
	cursus := fs.String("cursus", "", "cursus id")
	meal := fs.String("meal", "", "meal id")
	student := fs.String("student", "", "student id (defaults to yourself)")
	return fs, cursus, meal, student
}

func (a *app) claim(ctx context.Context, args []string) error {
	fs, cursus, meal, student := mealFlags("claim")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cursus == "" || *meal == "" {
		return errors.New("need -cursus and -meal")
	}
	st, sess, closeFn, err := a.remoteStore()
	if err != nil {
		return err
	}
	defer closeFn()

	req := subscription.ClaimRequest{
		Meal:      model.MealRef{Campus: sess.Profile.CampusID, Cursus: *cursus, MealID: *meal},
		StudentID: sess.Profile.IntraID,
	}
	if *student != "" {
		req.StudentID, req.CreatedBy = *student, sess.Profile.IntraID
	}
	p, err := subscription.New(st, a.log).ClaimSecondPortion(ctx, req)
	if err != nil {
		return err
	}
	a.printJSON(p)
	return nil
}

func (a *app) policy(ctx context.Context, args []string) error {
	fs := newFlags("policy")
	cursus := fs.String("cursus", "", "cursus id")
	meal := fs.String("meal", "", "meal id")
	enabled := fs.Bool("enabled", true, "second portion open")
	quantity := fs.Int64("quantity", 0, "slots left")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cursus == "" || *meal == "" {
		return errors.New("need -cursus and -meal")
	}
	st, sess, closeFn, err := a.remoteStore()
	if err != nil {
		return err
	}
	defer closeFn()
	if sess.Profile.Role != model.RoleStaff {
		return errors.New("staff only")
	}

	p := model.SecondPortionPolicy{HasSecondPortion: enabled, QuantitySecondPortion: quantity}
	ref := model.MealRef{Campus: sess.Profile.CampusID, Cursus: *cursus, MealID: *meal}
	if err := subscription.New(st, a.log).SetSecondPortionPolicy(ctx, ref, p); err != nil {
		return err
	}
	a.printJSON(p)
	return nil
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs, cursus, meal, student := mealFlags("watch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cursus == "" || *meal == "" {
		return errors.New("need -cursus and -meal")
	}
	st, sess, closeFn, err := a.remoteStore()
	if err != nil {
		return err
	}
	defer closeFn()
	sid := sess.Profile.IntraID
	if *student != "" {
		sid = *student
	}

	ref := model.MealRef{Campus: sess.Profile.CampusID, Cursus: *cursus, MealID: *meal}
	stop, err := subscription.New(st, a.log).ObserveSecondPortion(ctx, ref, sid, func(v model.SecondPortionView) {
		fmt.Fprintf(a.out, "enabled=%t subscribed=%t received=%t\n", v.Enabled, v.Subscribed, v.Received)
	})
	if err != nil {
		return err
	}
	defer stop()
	<-ctx.Done()
	return nil
}
