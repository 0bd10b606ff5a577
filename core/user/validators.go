package user

import (
	"bufio"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/roofest/core"
	appfs "github.com/trezcool/roofest/fs"
)

var (
	roleTag  = "role"
	roleText = "invalid role"

	usernameOrEmailTag  = "username_or_email"
	usernameOrEmailText = "one of username or email is required"

	clientRequiredTag  = "client_required"
	clientRequiredText = "client users must belong to a client"

	pwdMinLen    = 8
	pwdMaxSim    = .7
	specialRegex = regexp.MustCompile("[^A-Za-z0-9]")

	commonPasswords     []string
	commonPasswordsOnce sync.Once
)

// pwdRule is one check of the password policy; rules run in order and the first failure is reported.
type pwdRule struct {
	tag    string
	text   string
	failed func(pwd string, attrs []string) bool
}

var pwdPolicy = []pwdRule{
	{
		tag:  "pwdminlen",
		text: fmt.Sprintf("password must contain at least %d characters", pwdMinLen),
		failed: func(pwd string, _ []string) bool {
			return len([]rune(pwd)) < pwdMinLen
		},
	},
	{
		tag:  "pwdnospace",
		text: "password must not contain whitespace",
		failed: func(pwd string, _ []string) bool {
			return strings.IndexFunc(pwd, unicode.IsSpace) >= 0
		},
	},
	{
		tag:  "pwdnotallnum",
		text: "password cannot be entirely numeric",
		failed: func(pwd string, _ []string) bool {
			return strings.IndexFunc(pwd, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
		},
	},
	{
		tag:    "pwdcplx",
		text:   "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character",
		failed: func(pwd string, _ []string) bool { return !isComplex(pwd) },
	},
	{
		tag:  "pwdtoosim",
		text: "password cannot be similar to user attributes",
		failed: func(pwd string, attrs []string) bool {
			for _, attr := range attrs {
				if similarity(pwd, attr) >= pwdMaxSim {
					return true
				}
			}
			return false
		},
	},
	{
		tag:    "pwdnocommon",
		text:   "password is too common",
		failed: func(pwd string, _ []string) bool { return isCommon(pwd) },
	},
}

// RegisterValidators registers the user validation tags and struct rules.
func RegisterValidators(validate *validator.Validate, translator ut.Translator) {
	commonPasswordsOnce.Do(loadCommonPasswords)

	_ = validate.RegisterValidation(roleTag, roleValidation)
	core.RegisterCustomTranslation(validate, translator, roleTag, roleText)

	validate.RegisterStructValidation(userStructValidation, NewUser{}, UpdateUser{}, ResetUserPassword{})
	core.RegisterCustomTranslation(validate, translator, usernameOrEmailTag, usernameOrEmailText)
	core.RegisterCustomTranslation(validate, translator, clientRequiredTag, clientRequiredText)
	for _, rule := range pwdPolicy {
		core.RegisterCustomTranslation(validate, translator, rule.tag, rule.text)
	}
}

func loadCommonPasswords() {
	file, err := appfs.FS.Open("assets/common-passwords.txt")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pwd := strings.TrimSpace(scanner.Text()); pwd != "" {
			commonPasswords = append(commonPasswords, strings.ToLower(pwd))
		}
	}
	sort.Strings(commonPasswords)
}

func roleValidation(fl validator.FieldLevel) bool {
	return IsValidRole(fl.Field().String())
}

func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		if usr.Username == "" && usr.Email == "" {
			sl.ReportError(usr.Username, "username", "Username", usernameOrEmailTag, "")
			sl.ReportError(usr.Email, "email", "Email", usernameOrEmailTag, "")
		}
		if usr.Role == RoleUser && usr.ClientID == "" {
			sl.ReportError(usr.ClientID, "client_id", "ClientID", clientRequiredTag, "")
		}
		checkPassword(sl, usr.Password, usr.Name, usr.Username, usr.Email)
	case UpdateUser:
		if usr.Password != "" {
			checkPassword(sl, usr.Password, usr.Name, usr.Username, usr.Email)
		}
	case ResetUserPassword:
		checkPassword(sl, usr.Password)
	}
}

// checkPassword reports the first policy rule `pwd` breaks, comparing it against the user's `attrs`.
func checkPassword(sl validator.StructLevel, pwd string, attrs ...string) {
	for _, rule := range pwdPolicy {
		if rule.failed(pwd, attrs) {
			sl.ReportError(pwd, "password", "Password", rule.tag, "")
			return
		}
	}
}

func isComplex(pwd string) bool {
	var upper, lower, digit bool
	for _, r := range pwd {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit && specialRegex.MatchString(pwd)
}

func similarity(pwd, attr string) float64 {
	if attr == "" {
		return 0
	}
	return difflib.NewMatcher(strings.Split(pwd, ""), strings.Split(attr, "")).QuickRatio()
}

func isCommon(pwd string) bool {
	lpwd := strings.ToLower(pwd)
	idx := sort.SearchStrings(commonPasswords, lpwd)
	return idx < len(commonPasswords) && commonPasswords[idx] == lpwd
}
