package subjects

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var codePattern = regexp.MustCompile(`^[0-9A-Z]{4}$`)

// NormCode trims and upper-cases a subject code.
func NormCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func tokenValid(b byte) bool {
	r := rune(b)
	return r < unicode.MaxASCII && (unicode.IsDigit(r) || unicode.IsUpper(r))
}

// node is the materialized state of one subject used by the tree validators.
type node struct {
	ID          int64
	Code        string
	Name        string
	Level       int
	ParentID    *int64
	SubjectType string
}

// codeRuleError checks the positional code format of n against its parent.
// The returned message is prefixed with the subject id.
func codeRuleError(n node, byID map[int64]*node) string {
	code := NormCode(n.Code)
	if !codePattern.MatchString(code) {
		return fmt.Sprintf("[%d] Code must be 4 alphanumeric characters.", n.ID)
	}

	if n.Level == 1 {
		if code[1:] != "000" || !tokenValid(code[0]) {
			return fmt.Sprintf("[%d] Level-1 code must match X000 format. (X: 0-9/A-Z)", n.ID)
		}
		return ""
	}

	if n.ParentID == nil {
		return fmt.Sprintf("[%d] Level %d item requires a parent.", n.ID, n.Level)
	}
	parent, ok := byID[*n.ParentID]
	if !ok {
		return fmt.Sprintf("[%d] Parent item (%d) was not found.", n.ID, *n.ParentID)
	}
	pc := NormCode(parent.Code)
	if len(pc) < 4 {
		pc += strings.Repeat(" ", 4-len(pc))
	}

	switch n.Level {
	case 2:
		if code[2:] != "00" || !tokenValid(code[1]) {
			return fmt.Sprintf("[%d] Level-2 code must match XX00 format. (2nd char: 0-9/A-Z)", n.ID)
		}
		if code[0] != pc[0] {
			return fmt.Sprintf("[%d] First char of level-2 code must match parent level-1 code.", n.ID)
		}
	case 3:
		if code[3] != '0' || !tokenValid(code[2]) {
			return fmt.Sprintf("[%d] Level-3 code must match XXX0 format. (3rd char: 0-9/A-Z)", n.ID)
		}
		if code[:2] != pc[:2] {
			return fmt.Sprintf("[%d] First two chars of level-3 code must match parent level-2 code.", n.ID)
		}
	case 4:
		if !tokenValid(code[3]) {
			return fmt.Sprintf("[%d] Last char of level-4 code must be 0-9/A-Z.", n.ID)
		}
		if code[:3] != pc[:3] {
			return fmt.Sprintf("[%d] First three chars of level-4 code must match parent level-3 code.", n.ID)
		}
	default:
		return fmt.Sprintf("[%d] level must be in range 1..4.", n.ID)
	}
	return ""
}

// hierarchyError checks parent resolution, level and subject_type consistency for one node.
func hierarchyError(n node, byID map[int64]*node) string {
	if n.ParentID == nil {
		if n.Level != 1 {
			return fmt.Sprintf("[%d] level must be 1 when parent is null.", n.ID)
		}
		return ""
	}
	parent, ok := byID[*n.ParentID]
	if !ok {
		return fmt.Sprintf("[%d] parent item (%d) does not exist.", n.ID, *n.ParentID)
	}
	if *n.ParentID == n.ID {
		return fmt.Sprintf("[%d] cannot set self as parent.", n.ID)
	}
	if n.Level != parent.Level+1 {
		return fmt.Sprintf("[%d] level must be parent level + 1.", n.ID)
	}
	if n.SubjectType != parent.SubjectType {
		return fmt.Sprintf("[%d] subject_type must match parent.", n.ID)
	}
	if n.Level < 1 || n.Level > 4 {
		return fmt.Sprintf("[%d] level must be in range 1..4.", n.ID)
	}
	return ""
}

// cycleFrom walks parent pointers from id and reports whether a node repeats.
func cycleFrom(id int64, byID map[int64]*node) bool {
	seen := map[int64]struct{}{}
	cursor := &id
	for cursor != nil {
		if _, ok := seen[*cursor]; ok {
			return true
		}
		seen[*cursor] = struct{}{}
		n, ok := byID[*cursor]
		if !ok {
			return false
		}
		cursor = n.ParentID
	}
	return false
}
