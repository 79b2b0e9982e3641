package knmt

import "strings"

// TrtypDelete marks a record as logically deleted.
const TrtypDelete = "L"

// PrepareCreate returns the payload sent on create: key parts trimmed,
// default distribution channel and status, no audit fields.
func PrepareCreate(r Record) Record {
	out := prepare(r)
	out.Trtyp = ""
	return out
}

// PrepareUpdate returns the payload sent on update for key.
func PrepareUpdate(key Key, r Record) Record {
	key = key.Normalize()
	r.Kunnr, r.Vkorg, r.Vtweg, r.Kdmat = key.Kunnr, key.Vkorg, key.Vtweg, key.Kdmat
	return prepare(r)
}

// DeletePatch is the body of a soft delete.
func DeletePatch(key Key) map[string]string {
	key = key.Normalize()
	return map[string]string{
		"kunnr": key.Kunnr,
		"vkorg": key.Vkorg,
		"vtweg": key.Vtweg,
		"kdmat": key.Kdmat,
		"trtyp": TrtypDelete,
	}
}

func prepare(r Record) Record {
	k := r.Key()
	r.Kunnr, r.Vkorg, r.Vtweg, r.Kdmat = k.Kunnr, k.Vkorg, k.Vtweg, k.Kdmat
	if strings.TrimSpace(r.Zzpack) == "" {
		r.Zzpack = "0"
	}
	if strings.TrimSpace(r.ZzpackWhse) == "" {
		r.ZzpackWhse = "0"
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.StatusText == "" {
		r.StatusText = r.Status.Text()
	}
	r.Ernam, r.Erdat, r.Aenam, r.Aedat = "", "", "", ""
	return r
}
